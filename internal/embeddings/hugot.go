package embeddings

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

const (
	// ModelName is the Hugging Face repository of the embedding model: the
	// ONNX export of sentence-transformers/all-MiniLM-L6-v2.
	ModelName = "KnightsAnalytics/all-MiniLM-L6-v2"
	// EmbeddingDimensions is the output dimension of all-MiniLM-L6-v2.
	EmbeddingDimensions = 384

	pipelineName = "sentembed-feature-extraction"
)

// Options controls where the model weights come from.
type Options struct {
	// CacheDir holds downloaded models, one subdirectory per model.
	CacheDir string
	// Offline forbids downloading; the weights must already be cached.
	Offline bool
	// Logger receives load diagnostics. Nil discards them.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// HugotEmbedder implements Embedder with an in-process hugot
// feature-extraction pipeline (mean pooling, L2 normalisation).
type HugotEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.Mutex
}

// ModelDir returns the directory the model is stored in under cacheDir.
func ModelDir(cacheDir string) string {
	return filepath.Join(cacheDir, strings.ReplaceAll(ModelName, "/", "_"))
}

// IsCached reports whether cacheDir already holds usable model weights.
func IsCached(cacheDir string) bool {
	dir := ModelDir(cacheDir)
	if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err != nil {
		return false
	}
	onnx, err := filepath.Glob(filepath.Join(dir, "*.onnx"))
	return err == nil && len(onnx) > 0
}

// EnsureModel returns the local path of the model, downloading it into
// opts.CacheDir first when it is missing and opts.Offline is false.
func EnsureModel(ctx context.Context, opts Options) (string, error) {
	log := opts.logger()

	if IsCached(opts.CacheDir) {
		return ModelDir(opts.CacheDir), nil
	}
	if opts.Offline {
		return "", fmt.Errorf("%w: %s not found in %s", ErrModelNotCached, ModelName, opts.CacheDir)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating model cache: %w", err)
	}

	log.Info("downloading model", "model", ModelName, "cache_dir", opts.CacheDir)
	start := time.Now()

	path, err := hugot.DownloadModel(ModelName, opts.CacheDir, hugot.NewDownloadOptions())
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", ModelName, err)
	}

	log.Info("model downloaded", "path", path, "elapsed", time.Since(start))
	return path, nil
}

// NewHugotEmbedder resolves the model weights and loads them into a pure-Go
// hugot session. Every failure wraps ErrModelLoad.
func NewHugotEmbedder(ctx context.Context, opts Options) (*HugotEmbedder, error) {
	log := opts.logger()

	modelPath, err := EnsureModel(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	start := time.Now()
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("%w: creating session: %w", ErrModelLoad, err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      pipelineName,
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("%w: creating pipeline from %s: %w", ErrModelLoad, modelPath, err)
	}

	log.Debug("model loaded", "model", ModelName, "path", modelPath, "elapsed", time.Since(start))

	return &HugotEmbedder{
		session:  session,
		pipeline: pipeline,
	}, nil
}

// Embed generates an embedding vector for the given text.
func (e *HugotEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch runs the whole batch through the pipeline in a single call.
func (e *HugotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("running pipeline: %w", err)
	}

	if err := CheckShape(result.Embeddings, len(texts), EmbeddingDimensions); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}

// ModelVersion returns the model identifier.
func (e *HugotEmbedder) ModelVersion() string {
	return ModelName
}

// Dimensions returns the embedding vector dimension.
func (e *HugotEmbedder) Dimensions() int {
	return EmbeddingDimensions
}

// Close destroys the hugot session.
func (e *HugotEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
