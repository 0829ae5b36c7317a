package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hargabyte/sentembed/internal/config"
	"github.com/hargabyte/sentembed/internal/embeddings"
	"github.com/hargabyte/sentembed/internal/logging"
	"github.com/hargabyte/sentembed/internal/protocol"
	"github.com/spf13/cobra"
)

// embedderFactory loads the model. Tests replace it with a mock.
var embedderFactory = func(ctx context.Context, cfg *config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	e, err := embeddings.NewHugotEmbedder(ctx, embeddings.Options{
		CacheDir: cfg.Model.CacheDir,
		Offline:  cfg.Model.Offline,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// runEmbed is the whole embedding process: load the model, answer one
// request from stdin, release the model.
func runEmbed(cmd *cobra.Command, opts *rootOptions, mode protocol.Mode) error {
	ctx := cmd.Context()

	cfg, log, err := setup(cmd, opts)
	if err != nil {
		return err
	}

	start := time.Now()
	embedder, err := embedderFactory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := embedder.Close(); err != nil {
			log.Warn("closing model", "error", err)
		}
	}()
	log.Debug("model ready", "model", embedder.ModelVersion(), "dimensions", embedder.Dimensions(), "elapsed", time.Since(start))

	log.Debug("handling request", "mode", mode)
	return protocol.NewProcessor(embedder, log).Run(ctx, mode, cmd.InOrStdin(), cmd.OutOrStdout())
}

// setup loads the configuration and builds the stderr logger.
func setup(cmd *cobra.Command, opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	log := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return cfg, log, nil
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		if !errors.Is(err, config.ErrInvalidConfig) {
			err = fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
		return nil, err
	}
	return cfg, nil
}
