package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/runtime/cluster"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRegistersUntilCancelled(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newWorkerCmd()
	cmd.SetArgs([]string{
		"--cluster-address", server.Addr(),
		"--name", "gpu-box",
		"--num-cpus", "6",
		"--num-gpus", "2",
		"--slots", "3",
		"--log-level", "ERROR",
	})
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var workers []cluster.WorkerInfo
	require.Eventually(t, func() bool {
		var err error
		workers, err = cluster.Workers(context.Background(), client)
		return err == nil && len(workers) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "gpu-box", workers[0].Name)
	assert.Equal(t, runtime.Capacity{CPU: 6, GPU: 2}, workers[0].Capacity)
	assert.Equal(t, 3, workers[0].Slots)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	workers, err := cluster.Workers(context.Background(), client)
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestWorkerRejectsUnknownExecutor(t *testing.T) {
	server := miniredis.RunT(t)

	cmd := newWorkerCmd()
	cmd.SetArgs([]string{"--cluster-address", server.Addr(), "--executor", "podman"})
	cmd.SetErr(io.Discard)

	err := cmd.ExecuteContext(context.Background())
	assert.EqualError(t, err, "unknown executor 'podman'")
}
