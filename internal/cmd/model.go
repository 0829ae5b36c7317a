package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hargabyte/sentembed/internal/config"
	"github.com/hargabyte/sentembed/internal/embeddings"
	"github.com/hargabyte/sentembed/internal/output"
	"github.com/spf13/cobra"
)

// probeText is embedded by "model pull --verify" to prove the weights work.
const probeText = "sentembed model verification"

// ModelInfo is printed by "model info".
type ModelInfo struct {
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheDir   string `yaml:"cache_dir" json:"cache_dir"`
	Path       string `yaml:"path" json:"path"`
	Cached     bool   `yaml:"cached" json:"cached"`
	Offline    bool   `yaml:"offline" json:"offline"`
}

func newModelCmd(opts *rootOptions) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect or prefetch the embedding model",
		Long: `Manage the local copy of the embedding model weights.

The model is fixed; these commands only control whether its weights are on
disk before the first embedding request needs them.`,
	}

	modelCmd.AddCommand(newModelPullCmd(opts))
	modelCmd.AddCommand(newModelInfoCmd(opts))
	return modelCmd
}

func newModelPullCmd(opts *rootOptions) *cobra.Command {
	var verify bool

	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Download the model weights into the cache",
		Long: `Download the model weights into the configured cache directory and print
the local path. Does nothing if the weights are already cached.

With --verify the model is also loaded and one probe text is embedded, so a
broken download or incompatible runtime shows up here instead of on the
first real request.`,
		Example: `  sentembed model pull
  sentembed model pull --verify
  SENTEMBED_CACHE_DIR=/opt/models sentembed model pull`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, log, err := setup(cmd, opts)
			if err != nil {
				return err
			}

			path, err := embeddings.EnsureModel(ctx, embeddings.Options{
				CacheDir: cfg.Model.CacheDir,
				Offline:  cfg.Model.Offline,
				Logger:   log,
			})
			if err != nil {
				return fmt.Errorf("%w: %w", embeddings.ErrModelLoad, err)
			}

			if verify {
				if err := verifyModel(ctx, cfg, log); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	pullCmd.Flags().BoolVar(&verify, "verify", false, "Load the model and embed a probe text after downloading")
	return pullCmd
}

// verifyModel loads the model the same way the embedding process does and
// checks the shape of one embedding.
func verifyModel(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
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

	vector, err := embedder.Embed(ctx, probeText)
	if err != nil {
		return fmt.Errorf("%w: probe embedding: %w", embeddings.ErrModelLoad, err)
	}
	if err := embeddings.CheckShape([][]float32{vector}, 1, embedder.Dimensions()); err != nil {
		return fmt.Errorf("%w: probe embedding: %w", embeddings.ErrModelLoad, err)
	}

	log.Info("model verified", "model", embedder.ModelVersion(), "dimensions", len(vector), "elapsed", time.Since(start))
	return nil
}

func newModelInfoCmd(opts *rootOptions) *cobra.Command {
	var format string

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show the model identifier, dimension and cache state",
		Long: `Print what the embedding process would load, without loading it.

Output Format:
  --format yaml (default) | json`,
		Example: `  sentembed model info
  sentembed model info --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			cfg, _, err := setup(cmd, opts)
			if err != nil {
				return err
			}

			info := ModelInfo{
				Model:      embeddings.ModelName,
				Dimensions: embeddings.EmbeddingDimensions,
				CacheDir:   cfg.Model.CacheDir,
				Path:       embeddings.ModelDir(cfg.Model.CacheDir),
				Cached:     embeddings.IsCached(cfg.Model.CacheDir),
				Offline:    cfg.Model.Offline,
			}

			formatter, err := output.GetFormatter(outFormat)
			if err != nil {
				return err
			}
			return formatter.FormatToWriter(cmd.OutOrStdout(), info)
		},
	}

	infoCmd.Flags().StringVar(&format, "format", string(output.DefaultFormat), "Output format (yaml|json)")
	return infoCmd
}
