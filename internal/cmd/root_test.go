package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hargabyte/sentembed/internal/config"
	"github.com/hargabyte/sentembed/internal/embeddings"
	"github.com/hargabyte/sentembed/internal/protocol"
)

// isolate pins every setting through the environment so the caller's
// config files and variables cannot leak into a test.
func isolate(t *testing.T) string {
	t.Helper()
	cacheDir := t.TempDir()
	t.Setenv("SENTEMBED_CACHE_DIR", cacheDir)
	t.Setenv("SENTEMBED_OFFLINE", "true")
	t.Setenv("SENTEMBED_LOG_LEVEL", "warn")
	t.Setenv("SENTEMBED_LOG_FORMAT", "text")
	return cacheDir
}

// stubModel makes the embedding process use m, or fail to load with loadErr.
func stubModel(t *testing.T, m *embeddings.MockEmbedder, loadErr error) {
	t.Helper()
	orig := embedderFactory
	embedderFactory = func(ctx context.Context, cfg *config.Config, log *slog.Logger) (embeddings.Embedder, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		return m, nil
	}
	t.Cleanup(func() { embedderFactory = orig })
}

func newMockModel() *embeddings.MockEmbedder {
	m := new(embeddings.MockEmbedder)
	m.On("ModelVersion").Return(embeddings.ModelName).Maybe()
	m.On("Dimensions").Return(3).Maybe()
	m.On("Close").Return(nil)
	return m
}

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, ctx context.Context, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Run(ctx, args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func TestRunSingleMode(t *testing.T) {
	isolate(t)
	m := newMockModel()
	m.On("Embed", mock.Anything, "hello world").Return([]float32{0.25, -0.5, 1}, nil)
	stubModel(t, m, nil)

	res := run(t, t.Context(), "hello world\n")

	assert.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "{\"embedding\":[0.25,-0.5,1]}\n", res.stdout)
	m.AssertExpectations(t)
}

func TestRunBatchMode(t *testing.T) {
	isolate(t)
	m := newMockModel()
	m.On("EmbedBatch", mock.Anything, []string{"a", "b"}).Return([][]float32{{1, 0, 0}, {0, 1, 0}}, nil)
	stubModel(t, m, nil)

	res := run(t, t.Context(), `{"texts": ["a", "b"]}`, "--batch")

	assert.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "{\"embeddings\":[[1,0,0],[0,1,0]]}\n", res.stdout)

	var decoded protocol.BatchResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &decoded))
	assert.Len(t, decoded.Embeddings, 2)
	m.AssertExpectations(t)
}

func TestRunBatchWithoutTexts(t *testing.T) {
	isolate(t)
	m := newMockModel()
	stubModel(t, m, nil)

	for _, stdin := range []string{`{}`, `{"texts": []}`} {
		res := run(t, t.Context(), stdin, "--batch")
		assert.Equal(t, ExitOK, res.code, res.stderr)
		assert.Equal(t, "{\"embeddings\":[]}\n", res.stdout)
	}
	m.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
}

func TestRunIgnoresExtraArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"positional", []string{"unused-argument"}},
		{"unknown long flag", []string{"--other"}},
		{"unknown short flag", []string{"-x"}},
		{"batch not first", []string{"x", "--batch"}},
		{"batch after known flag", []string{"--verbose", "--batch"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			m := newMockModel()
			m.On("Embed", mock.Anything, "x").Return([]float32{1, 2, 3}, nil)
			stubModel(t, m, nil)

			res := run(t, t.Context(), "x", tt.args...)

			assert.Equal(t, ExitOK, res.code, res.stderr)
			assert.Equal(t, "{\"embedding\":[1,2,3]}\n", res.stdout)
			m.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
		})
	}
}

func TestRunBatchFirstWithTrailingArgs(t *testing.T) {
	isolate(t)
	m := newMockModel()
	m.On("EmbedBatch", mock.Anything, []string{"a"}).Return([][]float32{{1, 2, 3}}, nil)
	stubModel(t, m, nil)

	res := run(t, t.Context(), `{"texts": ["a"]}`, "--batch", "--other", "extra")

	assert.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "{\"embeddings\":[[1,2,3]]}\n", res.stdout)
}

func TestRunMalformedBatch(t *testing.T) {
	isolate(t)
	m := newMockModel()
	stubModel(t, m, nil)

	res := run(t, t.Context(), "not json", "--batch")

	assert.Equal(t, ExitInput, res.code)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, "malformed input")
	m.AssertExpectations(t)
}

func TestRunModelLoadFailure(t *testing.T) {
	isolate(t)
	stubModel(t, nil, fmt.Errorf("%w: weights missing", embeddings.ErrModelLoad))

	res := run(t, t.Context(), "hello")

	assert.Equal(t, ExitModelLoad, res.code)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, "weights missing")
}

func TestRunOfflineWithoutWeights(t *testing.T) {
	isolate(t)

	// Real factory: offline with an empty cache must fail before any download
	res := run(t, t.Context(), "hello")

	assert.Equal(t, ExitModelLoad, res.code)
	assert.Empty(t, res.stdout)
}

func TestRunInferenceFailureClosesModel(t *testing.T) {
	isolate(t)
	m := newMockModel()
	m.On("EmbedBatch", mock.Anything, []string{"a"}).Return(nil, errors.New("runtime error"))
	stubModel(t, m, nil)

	res := run(t, t.Context(), `{"texts": ["a"]}`, "--batch")

	assert.Equal(t, ExitInference, res.code)
	assert.Empty(t, res.stdout)
	m.AssertCalled(t, "Close")
}

func TestRunInterrupted(t *testing.T) {
	isolate(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	m := newMockModel()
	m.On("Embed", mock.Anything, "x").Return(nil, context.Canceled)
	stubModel(t, m, nil)

	res := run(t, ctx, "x")

	assert.Equal(t, ExitInterrupted, res.code)
	assert.Empty(t, res.stdout)
}

func TestExitOnSignal(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	var errOut bytes.Buffer
	codes := make(chan int, 1)

	go exitOnSignal(sigs, &errOut, func(code int) { codes <- code })
	sigs <- syscall.SIGTERM

	select {
	case code := <-codes:
		assert.Equal(t, ExitInterrupted, code)
		assert.Contains(t, errOut.String(), "interrupted")
	case <-time.After(5 * time.Second):
		t.Fatal("no exit after signal")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("SENTEMBED_LOG_LEVEL", "loud")

	called := false
	orig := embedderFactory
	embedderFactory = func(ctx context.Context, cfg *config.Config, log *slog.Logger) (embeddings.Embedder, error) {
		called = true
		return nil, errors.New("unreachable")
	}
	t.Cleanup(func() { embedderFactory = orig })

	res := run(t, t.Context(), "x")

	assert.Equal(t, ExitConfig, res.code)
	assert.Contains(t, res.stderr, "log.level")
	assert.False(t, called, "model must not load with a bad config")
}

func TestRunConfigFileFlag(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [not, a, map]\n"), 0644))

	res := run(t, t.Context(), "x", "--config", path)

	assert.Equal(t, ExitConfig, res.code)
	assert.Contains(t, res.stderr, "parsing config file")
}

func TestRunVerboseLogsToStderr(t *testing.T) {
	isolate(t)
	m := newMockModel()
	m.On("Embed", mock.Anything, "x").Return([]float32{1, 2, 3}, nil)
	stubModel(t, m, nil)

	res := run(t, t.Context(), "x", "--verbose")

	assert.Equal(t, ExitOK, res.code)
	assert.Equal(t, "{\"embedding\":[1,2,3]}\n", res.stdout, "logs must never reach stdout")
	assert.Contains(t, res.stderr, "model ready")
}

func TestForAgents(t *testing.T) {
	isolate(t)

	res := run(t, t.Context(), "", "--for-agents")
	require.Equal(t, ExitOK, res.code, res.stderr)

	var discovery struct {
		Version  string        `json:"version"`
		Flags    []FlagInfo    `json:"flags"`
		Commands []CommandInfo `json:"commands"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &discovery))

	assert.Equal(t, Version, discovery.Version)

	var names []string
	for _, c := range discovery.Commands {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"model", "config"}, names)

	var flags []string
	for _, f := range discovery.Flags {
		flags = append(flags, f.Name)
	}
	assert.Contains(t, flags, "batch")
}

func TestModelInfo(t *testing.T) {
	cacheDir := isolate(t)

	res := run(t, t.Context(), "", "model", "info", "--format", "json")
	require.Equal(t, ExitOK, res.code, res.stderr)

	var info ModelInfo
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.Equal(t, embeddings.ModelName, info.Model)
	assert.Equal(t, embeddings.EmbeddingDimensions, info.Dimensions)
	assert.Equal(t, cacheDir, info.CacheDir)
	assert.False(t, info.Cached)
	assert.True(t, info.Offline)
}

func TestModelInfoBadFormat(t *testing.T) {
	isolate(t)

	res := run(t, t.Context(), "", "model", "info", "--format", "xml")
	assert.Equal(t, ExitFailure, res.code)
}

// fakeWeights makes the cache look populated without downloading anything.
func fakeWeights(t *testing.T, cacheDir string) string {
	t.Helper()
	dir := embeddings.ModelDir(cacheDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range []string{"tokenizer.json", "model.onnx"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	return dir
}

func TestModelPullOfflineMissing(t *testing.T) {
	isolate(t)

	res := run(t, t.Context(), "", "model", "pull")

	assert.Equal(t, ExitModelLoad, res.code)
	assert.Empty(t, res.stdout)
}

func TestModelPullCached(t *testing.T) {
	cacheDir := isolate(t)
	dir := fakeWeights(t, cacheDir)

	res := run(t, t.Context(), "", "model", "pull")

	assert.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, dir+"\n", res.stdout)
}

func TestModelPullVerify(t *testing.T) {
	cacheDir := isolate(t)
	fakeWeights(t, cacheDir)

	m := newMockModel()
	m.On("Embed", mock.Anything, probeText).Return([]float32{0.1, 0.2, 0.3}, nil)
	stubModel(t, m, nil)

	res := run(t, t.Context(), "", "model", "pull", "--verify")

	assert.Equal(t, ExitOK, res.code, res.stderr)
	m.AssertExpectations(t)
}

func TestModelPullVerifyLogsCloseError(t *testing.T) {
	cacheDir := isolate(t)
	fakeWeights(t, cacheDir)

	m := new(embeddings.MockEmbedder)
	m.On("ModelVersion").Return(embeddings.ModelName).Maybe()
	m.On("Dimensions").Return(3).Maybe()
	m.On("Embed", mock.Anything, probeText).Return([]float32{0.1, 0.2, 0.3}, nil)
	m.On("Close").Return(errors.New("session still busy"))
	stubModel(t, m, nil)

	res := run(t, t.Context(), "", "model", "pull", "--verify")

	assert.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stderr, "closing model")
	assert.Contains(t, res.stderr, "session still busy")
	m.AssertCalled(t, "Close")
}

func TestModelPullVerifyWrongShape(t *testing.T) {
	cacheDir := isolate(t)
	fakeWeights(t, cacheDir)

	m := newMockModel()
	m.On("Embed", mock.Anything, probeText).Return([]float32{0.1}, nil)
	stubModel(t, m, nil)

	res := run(t, t.Context(), "", "model", "pull", "--verify")

	assert.Equal(t, ExitModelLoad, res.code)
	assert.Empty(t, res.stdout)
}

func TestConfigShow(t *testing.T) {
	cacheDir := isolate(t)

	res := run(t, t.Context(), "", "config", "show", "--format", "json")
	require.Equal(t, ExitOK, res.code, res.stderr)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &cfg))
	assert.Equal(t, cacheDir, cfg.Model.CacheDir)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestConfigInit(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Chdir(dir)

	res := run(t, t.Context(), "", "config", "init")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, filepath.Join(config.ConfigDirName, config.ConfigFileName))

	res = run(t, t.Context(), "", "config", "init")
	assert.Equal(t, ExitFailure, res.code, "second init must not overwrite")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("x"), ExitFailure},
		{"config", fmt.Errorf("%w: bad", config.ErrInvalidConfig), ExitConfig},
		{"model load", fmt.Errorf("%w: gone", embeddings.ErrModelLoad), ExitModelLoad},
		{"not cached", embeddings.ErrModelNotCached, ExitModelLoad},
		{"read", fmt.Errorf("%w: eof", protocol.ErrReadInput), ExitInput},
		{"malformed", fmt.Errorf("%w: json", protocol.ErrMalformedInput), ExitInput},
		{"inference", fmt.Errorf("%w: nan", protocol.ErrInference), ExitInference},
		{"write", fmt.Errorf("%w: pipe", protocol.ErrWriteOutput), ExitOutput},
		{"cancel wins over stage", fmt.Errorf("%w: %w", protocol.ErrInference, context.Canceled), ExitInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
