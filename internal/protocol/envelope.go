package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrReadInput is returned when stdin cannot be read.
	ErrReadInput = errors.New("reading input")
	// ErrMalformedInput is returned when batch input is not a JSON object
	// with a list of strings under "texts".
	ErrMalformedInput = errors.New("malformed input")
	// ErrInference is returned when the model fails or returns an unusable result.
	ErrInference = errors.New("inference failed")
	// ErrWriteOutput is returned when stdout cannot be written.
	ErrWriteOutput = errors.New("writing output")
)

// BatchRequest is the batch-mode input envelope.
type BatchRequest struct {
	// Texts defaults to an empty list when the key is absent or null.
	Texts []string `json:"texts"`
}

// SingleResponse is the single-mode output envelope.
type SingleResponse struct {
	Embedding []float32 `json:"embedding"`
}

// BatchResponse is the batch-mode output envelope.
type BatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// ReadSingle reads all of r and returns it with surrounding whitespace removed.
func ReadSingle(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReadInput, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadBatch reads all of r and parses it as a BatchRequest.
func ReadBatch(r io.Reader) (BatchRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return BatchRequest{}, fmt.Errorf("%w: %w", ErrReadInput, err)
	}
	return ParseBatch(data)
}

// ParseBatch decodes a batch request. The document must be exactly one JSON
// object; unknown keys are ignored.
func ParseBatch(data []byte) (BatchRequest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return BatchRequest{}, fmt.Errorf("%w: empty input, expected a JSON object", ErrMalformedInput)
	}
	if trimmed[0] != '{' {
		return BatchRequest{}, fmt.Errorf("%w: expected a JSON object", ErrMalformedInput)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var req BatchRequest
	if err := dec.Decode(&req); err != nil {
		return BatchRequest{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return BatchRequest{}, fmt.Errorf("%w: unexpected data after JSON object", ErrMalformedInput)
	}

	if req.Texts == nil {
		req.Texts = []string{}
	}
	return req, nil
}
