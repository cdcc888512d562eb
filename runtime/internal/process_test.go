package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/trial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrainable(t *testing.T, dir, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+script), 0o755))
}

func TestProcessExecutorReportsResults(t *testing.T) {
	trainables := t.TempDir()
	writeTrainable(t, trainables, "train", `
echo "config=$TUNE_CONFIG"
echo "oops" >&2
for i in 1 2 3; do
  echo "{\"training_iteration\": $i, \"trial\": \"$TUNE_TRIAL_ID\"}"
done
`)

	req := trial.Request{ID: "0a1b2c3d", Name: "train_0", Experiment: "default", Run: "train", Config: map[string]any{"a": 1}, Dir: filepath.Join(t.TempDir(), "trial")}

	var results []trial.Result
	err := NewProcessExecutor(trainables, discardLogger()).Execute(context.Background(), req, func(r trial.Result) {
		results = append(results, r)
	})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 3, results[2].Iteration())
	assert.Equal(t, "0a1b2c3d", results[0]["trial"])

	stdout, err := os.ReadFile(filepath.Join(req.Dir, StdoutLog))
	require.NoError(t, err)
	assert.Equal(t, "config={\"a\":1}\n", string(stdout))
	stderr, err := os.ReadFile(filepath.Join(req.Dir, StderrLog))
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(stderr))
}

func TestProcessExecutorExitCode(t *testing.T) {
	trainables := t.TempDir()
	writeTrainable(t, trainables, "fail", "exit 7\n")

	req := trial.Request{ID: "x", Name: "fail_0", Run: "fail", Dir: t.TempDir()}
	err := NewProcessExecutor(trainables, discardLogger()).Execute(context.Background(), req, func(trial.Result) {})

	var exitErr *runtime.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.Code)
	assert.EqualError(t, err, "trainable exited with status 7")
}

func TestProcessExecutorCancel(t *testing.T) {
	trainables := t.TempDir()
	writeTrainable(t, trainables, "forever", "echo '{\"training_iteration\": 1}'\nexec sleep 60\n")

	ctx, cancel := context.WithCancel(context.Background())
	req := trial.Request{ID: "x", Name: "forever_0", Run: "forever", Dir: t.TempDir()}

	start := time.Now()
	err := NewProcessExecutor(trainables, discardLogger()).Execute(ctx, req, func(trial.Result) {
		cancel()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestProcessExecutorUnknownTrainable(t *testing.T) {
	req := trial.Request{ID: "x", Name: "missing_0", Run: "tune-no-such-trainable", Dir: t.TempDir()}
	err := NewProcessExecutor(t.TempDir(), discardLogger()).Execute(context.Background(), req, func(trial.Result) {})

	assert.ErrorContains(t, err, "trainable 'tune-no-such-trainable' not found")
}

func TestResolvePrefersTrainableDir(t *testing.T) {
	trainables := t.TempDir()
	writeTrainable(t, trainables, "sh", "exit 0\n")

	path, err := NewProcessExecutor(trainables, discardLogger()).Resolve("sh")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(trainables, "sh"), path)

	path, err = NewProcessExecutor("", discardLogger()).Resolve("sh")
	require.NoError(t, err)
	assert.NotEqual(t, filepath.Join(trainables, "sh"), path)
}

func TestScanResultsSeparatesJSONLines(t *testing.T) {
	input := "hello\n{\"done\": true}\n{not json\n  {\"x\": 1}  \n"

	var results []trial.Result
	var passthrough strings.Builder
	require.NoError(t, ScanResults(strings.NewReader(input), func(r trial.Result) {
		results = append(results, r)
	}, &passthrough))

	require.Len(t, results, 2)
	assert.True(t, results[0].Done())
	assert.Equal(t, "hello\n{not json\n", passthrough.String())
}

func TestEnv(t *testing.T) {
	env, err := Env(trial.Request{
		ID: "id", Name: "n", Experiment: "e", Config: map[string]any{"k": "v"}, Restore: "/ckpt", CheckpointFreq: 5,
	}, "/dir")

	require.NoError(t, err)
	assert.Equal(t, []string{
		"TUNE_TRIAL_ID=id",
		"TUNE_TRIAL_NAME=n",
		"TUNE_EXPERIMENT=e",
		"TUNE_TRIAL_DIR=/dir",
		`TUNE_CONFIG={"k":"v"}`,
		"TUNE_RESTORE=/ckpt",
		"TUNE_CHECKPOINT_FREQ=5",
	}, env)
}
