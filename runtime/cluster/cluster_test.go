package cluster

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/trial"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	results []trial.Result
	err     error
	block   bool

	mu       sync.Mutex
	requests []trial.Request
	stopped  chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, req trial.Request, report func(trial.Result)) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	for _, result := range f.results {
		report(result)
	}
	if f.block {
		<-ctx.Done()
		close(f.stopped)
		return ctx.Err()
	}
	return f.err
}

func newTestCluster(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return server, client
}

func startWorker(t *testing.T, client *redis.Client, executor runtime.Executor) (stop func()) {
	worker, err := NewWorker(client, WorkerConfig{
		Name:                "worker-1",
		Slots:               2,
		Capacity:            runtime.Capacity{CPU: 4, GPU: 1},
		Executor:            executor,
		CancelCheckInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	return func() {
		cancel()
		assert.NoError(t, <-done)
	}
}

func testRequest() trial.Request {
	return trial.Request{ID: "0badcafe", Name: "train_0", Experiment: "default", Run: "train", Dir: "/tmp/tune/default/train_0_0badcafe"}
}

func TestConnect(t *testing.T) {
	server, _ := newTestCluster(t)

	client, err := Connect(context.Background(), runtime.Options{Mode: runtime.ModeCluster, ClusterAddress: server.Addr()})
	require.NoError(t, err)
	client.Close()
}

func TestConnectFailureIsFatal(t *testing.T) {
	server := miniredis.NewMiniRedis()
	require.NoError(t, server.Start())
	addr := server.Addr()
	server.Close()

	_, err := Connect(context.Background(), runtime.Options{Mode: runtime.ModeCluster, ClusterAddress: addr})
	assert.ErrorContains(t, err, "failed to connect to cluster at "+addr)
}

func TestConnectRejectsInvalidSSHTarget(t *testing.T) {
	_, err := Connect(context.Background(), runtime.Options{ClusterAddress: "localhost:6379", SSHTunnel: "no-user-here"})
	assert.EqualError(t, err, "invalid ssh target 'no-user-here', expected user@host[:port]")
}

func TestParseSSHTarget(t *testing.T) {
	destination, port, err := parseSSHTarget("tune@head.example.com:2222")
	require.NoError(t, err)
	assert.Equal(t, "tune@head.example.com", destination)
	assert.Equal(t, "2222", port)

	_, port, err = parseSSHTarget("tune@head")
	require.NoError(t, err)
	assert.Equal(t, "22", port)
}

func TestCapacitySumsWorkers(t *testing.T) {
	_, client := newTestCluster(t)
	for name, capacity := range map[string]runtime.Capacity{"a": {CPU: 4, GPU: 1}, "b": {CPU: 2}} {
		info, _ := json.Marshal(WorkerInfo{Name: name, Capacity: capacity})
		require.NoError(t, client.HSet(context.Background(), WorkersKey, name, info).Err())
	}

	capacity, err := NewWithClient(client, nil).Capacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runtime.Capacity{CPU: 6, GPU: 1}, capacity)
}

func TestTrialRunsOnWorker(t *testing.T) {
	server, client := newTestCluster(t)
	executor := &fakeExecutor{results: []trial.Result{
		{"training_iteration": 1.0},
		{"training_iteration": 2.0, "done": true},
	}}
	stop := startWorker(t, client, executor)

	assert.Eventually(t, func() bool {
		return server.Exists(WorkersKey)
	}, time.Second, 10*time.Millisecond, "worker must register")

	var results []trial.Result
	err := NewExecutor(client, discardLogger()).Execute(context.Background(), testRequest(), func(r trial.Result) {
		results = append(results, r)
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[1].Done())
	executor.mu.Lock()
	assert.Equal(t, []trial.Request{testRequest()}, executor.requests)
	executor.mu.Unlock()

	stop()
	workers, err := Workers(context.Background(), client)
	require.NoError(t, err)
	assert.Empty(t, workers, "worker must deregister on shutdown")
}

func TestExitCodeIsRelayed(t *testing.T) {
	_, client := newTestCluster(t)
	stop := startWorker(t, client, &fakeExecutor{err: &runtime.ExitError{Code: 2}})
	defer stop()

	err := NewExecutor(client, discardLogger()).Execute(context.Background(), testRequest(), func(trial.Result) {})

	var exitErr *runtime.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestCancelledTrialStopsOnWorker(t *testing.T) {
	server, client := newTestCluster(t)
	executor := &fakeExecutor{
		results: []trial.Result{{"training_iteration": 1.0}},
		block:   true,
		stopped: make(chan struct{}),
	}
	stop := startWorker(t, client, executor)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	err := NewExecutor(client, discardLogger()).Execute(ctx, testRequest(), func(trial.Result) {
		cancel()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, server.Exists(CancelKey(testRequest().ID)))
	select {
	case <-executor.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("trial was not stopped on the worker")
	}
}

func TestWorkerRelocatesTrialDir(t *testing.T) {
	_, client := newTestCluster(t)
	payload, _ := json.Marshal(testRequest())
	require.NoError(t, client.RPush(context.Background(), TrialsKey, payload).Err())

	worker, err := NewWorker(client, WorkerConfig{Name: "w", Executor: &fakeExecutor{}, LocalDir: "/data/results"})
	require.NoError(t, err)

	req, err := worker.next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "/data/results/default/train_0_0badcafe", req.Dir)
}

func TestNewWorkerRequiresName(t *testing.T) {
	_, client := newTestCluster(t)
	_, err := NewWorker(client, WorkerConfig{Executor: &fakeExecutor{}})
	assert.EqualError(t, err, "worker name is required")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
