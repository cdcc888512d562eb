package cluster

import (
	"context"
	"fmt"
	"net"

	"github.com/gammadia/tune/runtime"
	"github.com/redis/go-redis/v9"
)

// Connect opens a client to the coordination endpoint and pings it once.
// A failed ping is returned as is: joining a cluster is never retried.
func Connect(ctx context.Context, opts runtime.Options) (*redis.Client, error) {
	addr := opts.ClusterAddress
	if addr == "" {
		addr = runtime.DefaultClusterAddress
	}

	options := &redis.Options{
		Addr:       addr,
		MaxRetries: -1,
	}
	if opts.SSHTunnel != "" {
		if _, _, err := parseSSHTarget(opts.SSHTunnel); err != nil {
			return nil, err
		}
		options.Dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialSSH(ctx, network, opts.SSHTunnel, addr)
		}
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to cluster at %s: %w", addr, err)
	}
	return client, nil
}
