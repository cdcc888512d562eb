package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gammadia/tune/experiment"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/scheduler"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct{}

func (fakeRuntime) Name() string { return "fake" }
func (fakeRuntime) Capacity(context.Context) (runtime.Capacity, error) {
	return runtime.Capacity{CPU: 4}, nil
}
func (fakeRuntime) Executor() runtime.Executor { return nil }
func (fakeRuntime) Close() error               { return nil }

type recorder struct {
	inits       []runtime.Options
	initErr     error
	experiments experiment.Experiments
	sched       scheduler.TrialScheduler
	queueTrials bool
	runs        int
}

func (r *recorder) trainer() trainer {
	return trainer{
		init: func(ctx context.Context, opts runtime.Options) (runtime.Runtime, error) {
			r.inits = append(r.inits, opts)
			if r.initErr != nil {
				return nil, r.initErr
			}
			return fakeRuntime{}, nil
		},
		run: func(ctx context.Context, rt runtime.Runtime, experiments experiment.Experiments, sched scheduler.TrialScheduler, queueTrials bool) error {
			r.runs++
			r.experiments = experiments
			r.sched = sched
			r.queueTrials = queueTrials
			return nil
		},
	}
}

func execute(t *testing.T, r *recorder, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newTrainCmd(r.trainer())
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestTrainFromFlags(t *testing.T) {
	r := &recorder{}
	_, err := execute(t, r, "--run", "PPO", "--env", "CartPole-v0", "--config", `{"lr": 0.01}`)
	require.NoError(t, err)

	require.Equal(t, 1, r.runs)
	require.Contains(t, r.experiments, "default")
	spec := r.experiments["default"]
	assert.Equal(t, "PPO", spec.Run)
	assert.Equal(t, "CartPole-v0", spec.Config["env"])
	assert.Equal(t, 0.01, spec.Config["lr"])
	assert.Equal(t, 1, spec.Repeat)
	assert.False(t, r.queueTrials)
}

func TestTrainFileOverridesFlags(t *testing.T) {
	file := filepath.Join(t.TempDir(), "experiments.yaml")
	require.NoError(t, os.WriteFile(file, []byte("cartpole:\n  run: DQN\n  env: CartPole-v1\n"), 0o644))

	r := &recorder{}
	_, err := execute(t, r, "-f", file, "--run", "PPO", "--env", "Pendulum-v0", "--experiment-name", "ignored")
	require.NoError(t, err)

	assert.Equal(t, []string{"cartpole"}, r.experiments.Names())
	assert.Equal(t, "DQN", r.experiments["cartpole"].Run)
	assert.Equal(t, "CartPole-v1", r.experiments["cartpole"].Config["env"])
}

func TestTrainValidationFailureSkipsRuntime(t *testing.T) {
	r := &recorder{}
	_, err := execute(t, r, "--run", "PPO")

	var validationErr *experiment.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.EqualError(t, err, "experiment 'default': the following arguments are required: --env")
	assert.Empty(t, r.inits)
	assert.Zero(t, r.runs)
}

func TestTrainFileWithOneInvalidExperimentSkipsRuntime(t *testing.T) {
	r := &recorder{}
	_, err := execute(t, r, "-f", "../experiment/tests/experiments/invalid_second_missing_run.yaml")

	assert.EqualError(t, err, "experiment 'pendulum': the following arguments are required: --run")
	assert.Empty(t, r.inits)
	assert.Zero(t, r.runs)
}

func TestTrainMalformedJSONSkipsRuntime(t *testing.T) {
	r := &recorder{}
	_, err := execute(t, r, "--run", "PPO", "--env", "CartPole-v0", "--trial-resources", "{cpu")

	var parseErr *experiment.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Empty(t, r.inits)
}

func TestTrainLocalRuntimeOptions(t *testing.T) {
	r := &recorder{}
	_, err := execute(t, r, "--run", "PPO", "--env", "CartPole-v0")
	require.NoError(t, err)

	require.Len(t, r.inits, 1)
	opts := r.inits[0]
	assert.Equal(t, runtime.ModeLocal, opts.Mode)
	assert.Nil(t, opts.NumCPUs)
	assert.Nil(t, opts.NumGPUs)
	assert.Equal(t, runtime.ExecutorProcess, opts.Executor)
}

func TestTrainResourceCaps(t *testing.T) {
	r := &recorder{}
	_, err := execute(t, r, "--run", "PPO", "--env", "CartPole-v0", "--num-cpus", "8", "--ray-num-gpus", "0")
	require.NoError(t, err)

	opts := r.inits[0]
	assert.Equal(t, lo.ToPtr(8), opts.NumCPUs)
	assert.Equal(t, lo.ToPtr(0), opts.NumGPUs)
}

func TestTrainClusterRuntimeOptions(t *testing.T) {
	r := &recorder{}
	_, err := execute(t, r,
		"--run", "PPO", "--env", "CartPole-v0",
		"--cluster", "--redis-address", "head:6379", "--num-cpus", "8", "--queue-trials",
	)
	require.NoError(t, err)

	opts := r.inits[0]
	assert.Equal(t, runtime.ModeCluster, opts.Mode)
	assert.Equal(t, "head:6379", opts.ClusterAddress)
	assert.Nil(t, opts.NumCPUs)
	assert.True(t, r.queueTrials)
}

func TestTrainInitFailure(t *testing.T) {
	r := &recorder{initErr: errors.New("connection refused")}
	_, err := execute(t, r, "--run", "PPO", "--env", "CartPole-v0")

	assert.EqualError(t, err, "connection refused")
	assert.Zero(t, r.runs)
}

func TestTrainUsesDefaultScheduler(t *testing.T) {
	r := &recorder{}
	_, err := execute(t, r, "--run", "PPO", "--env", "CartPole-v0")
	require.NoError(t, err)

	require.NotNil(t, r.sched)
	assert.Equal(t, 3.0, r.sched.Config().GracePeriod)
	assert.Equal(t, 4.0, r.sched.Config().ReductionFactor)
}

func TestTrainDryRun(t *testing.T) {
	r := &recorder{}
	out, err := execute(t, r, "--run", "PPO", "--env", "CartPole-v0", "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, "default:")
	assert.Contains(t, out, "run: PPO")
	assert.Empty(t, r.inits)
	assert.Zero(t, r.runs)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, &recorder{}, "version")
	require.NoError(t, err)
	assert.Equal(t, "train version dev (n/a)\n", out)
}
