package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Encoder is the slice of the embedding model the protocol needs.
type Encoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Processor answers one request with an already-loaded model.
type Processor struct {
	encoder Encoder
	log     *slog.Logger
}

// NewProcessor returns a Processor using enc. A nil logger discards diagnostics.
func NewProcessor(enc Encoder, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{encoder: enc, log: log}
}

// Run reads the whole request from in, embeds it and writes one JSON line to
// out. Nothing is written unless the complete response is ready.
func (p *Processor) Run(ctx context.Context, mode Mode, in io.Reader, out io.Writer) error {
	var (
		payload []byte
		err     error
	)
	switch mode {
	case ModeSingle:
		payload, err = p.single(ctx, in)
	case ModeBatch:
		payload, err = p.batch(ctx, in)
	default:
		return fmt.Errorf("unknown mode %s", mode)
	}
	if err != nil {
		return err
	}

	if _, err := out.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteOutput, err)
	}
	return nil
}

func (p *Processor) single(ctx context.Context, in io.Reader) ([]byte, error) {
	text, err := ReadSingle(in)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	vector, err := p.encoder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: no embedding returned", ErrInference)
	}
	p.log.Debug("embedded text", "chars", len(text), "dimensions", len(vector), "elapsed", time.Since(start))

	return encode(SingleResponse{Embedding: vector})
}

func (p *Processor) batch(ctx context.Context, in io.Reader) ([]byte, error) {
	req, err := ReadBatch(in)
	if err != nil {
		return nil, err
	}

	vectors := [][]float32{}
	if len(req.Texts) > 0 {
		start := time.Now()
		vectors, err = p.encoder.EmbedBatch(ctx, req.Texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInference, err)
		}
		if len(vectors) != len(req.Texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrInference, len(vectors), len(req.Texts))
		}
		p.log.Debug("embedded batch", "texts", len(req.Texts), "elapsed", time.Since(start))
	}

	return encode(BatchResponse{Embeddings: vectors})
}

// encode fails only on values JSON cannot carry, such as NaN from the model.
func encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding result: %w", ErrInference, err)
	}
	return append(payload, '\n'), nil
}
