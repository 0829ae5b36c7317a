package cmd

import (
	"context"
	"errors"

	"github.com/hargabyte/sentembed/internal/config"
	"github.com/hargabyte/sentembed/internal/embeddings"
	"github.com/hargabyte/sentembed/internal/protocol"
)

// Process exit codes, one per failure stage.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitModelLoad   = 3
	ExitInput       = 4
	ExitInference   = 5
	ExitOutput      = 6
	ExitInterrupted = 130
)

var exitCodeDescriptions = map[int]string{
	ExitOK:          "success",
	ExitFailure:     "usage error or unclassified failure",
	ExitConfig:      "invalid configuration",
	ExitModelLoad:   "model could not be loaded",
	ExitInput:       "input could not be read or is malformed",
	ExitInference:   "inference failed",
	ExitOutput:      "output could not be written",
	ExitInterrupted: "interrupted by signal",
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, config.ErrInvalidConfig):
		return ExitConfig
	case errors.Is(err, embeddings.ErrModelLoad), errors.Is(err, embeddings.ErrModelNotCached):
		return ExitModelLoad
	case errors.Is(err, protocol.ErrReadInput), errors.Is(err, protocol.ErrMalformedInput):
		return ExitInput
	case errors.Is(err, protocol.ErrInference):
		return ExitInference
	case errors.Is(err, protocol.ErrWriteOutput):
		return ExitOutput
	default:
		return ExitFailure
	}
}
