//go:build unix

package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hargabyte/sentembed/internal/cmd"
)

// runMainEnv makes the test binary behave as sentembed itself.
const runMainEnv = "SENTEMBED_TEST_RUN_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(runMainEnv) == "1" {
		main()
		return
	}
	os.Exit(m.Run())
}

func TestSIGTERMExitsPromptly(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a subprocess")
	}

	// An empty cache and no offline flag leave the process blocked fetching
	// weights, and stdin stays open behind that.
	proc := exec.Command(os.Args[0])
	proc.Env = append(os.Environ(),
		runMainEnv+"=1",
		"SENTEMBED_CACHE_DIR="+t.TempDir(),
		"SENTEMBED_OFFLINE=false",
		"SENTEMBED_LOG_LEVEL=error",
		"SENTEMBED_LOG_FORMAT=text",
	)
	stdin, err := proc.StdinPipe()
	require.NoError(t, err)
	defer stdin.Close()

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	require.NoError(t, proc.Start())
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, proc.Process.Signal(syscall.SIGTERM))

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		require.True(t, errors.As(err, &exitErr), "want non-zero exit, got %v", err)
		assert.Equal(t, cmd.ExitInterrupted, exitErr.ExitCode(), stderr.String())
		assert.Empty(t, stdout.String())
	case <-time.After(5 * time.Second):
		_ = proc.Process.Kill()
		<-done
		t.Fatal("process kept running after SIGTERM")
	}
}
