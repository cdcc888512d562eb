package main

import (
	"context"
	"errors"

	"github.com/gammadia/tune/flags"
	"github.com/gammadia/tune/log"
	"github.com/gammadia/tune/namegen"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/runtime/cluster"
	"github.com/gammadia/tune/runtime/local"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newWorkerCmd() *cobra.Command {
	var v *viper.Viper

	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Run the trials queued on a tune cluster",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			if err := log.Init(v, cmd.ErrOrStderr(), "worker"); err != nil {
				return err
			}

			client, err := cluster.Connect(cmd.Context(), runtime.Options{
				Logger:         log.Base,
				ClusterAddress: v.GetString(flags.ClusterAddress),
				SSHTunnel:      v.GetString(flags.ClusterSSH),
			})
			if err != nil {
				return err
			}
			defer client.Close()

			return runWorker(cmd.Context(), client, v)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(flags.NormalizeAliases)
	flags.AddLogFlags(fs, "json")

	fs.String(flags.ClusterAddress, runtime.DefaultClusterAddress, "address of the cluster coordination service")
	fs.String(flags.ClusterSSH, "", "reach the cluster through an ssh tunnel (user@host[:port])")
	fs.Int(flags.NumCPUs, 0, "number of CPUs this worker offers (default all)")
	fs.Int(flags.NumGPUs, 0, "number of GPUs this worker offers")
	fs.Int(flags.Slots, cluster.DefaultSlots, "maximum number of trials run at the same time")
	fs.String(flags.Executor, runtime.ExecutorProcess, "how trainables are launched (process, docker)")
	fs.String(flags.TrainableDir, "", "directory searched for trainables before PATH")
	fs.String(flags.LocalDir, "", "relocate trial results under this directory")
	fs.String(flags.WorkerName, "", "name under which the worker registers (default random)")

	v = flags.NewViper(fs)
	return cmd
}

// runWorker serves trials from the cluster with a local runtime until ctx is
// cancelled.
func runWorker(ctx context.Context, client *redis.Client, v *viper.Viper) error {
	rt, err := local.New(runtime.Options{
		Logger:       log.Base.With("component", "executor"),
		Mode:         runtime.ModeLocal,
		NumCPUs:      flags.IntPtr(v, flags.NumCPUs),
		NumGPUs:      flags.IntPtr(v, flags.NumGPUs),
		Executor:     v.GetString(flags.Executor),
		TrainableDir: v.GetString(flags.TrainableDir),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("Failed to close executor", "error", err)
		}
	}()

	capacity, err := rt.Capacity(ctx)
	if err != nil {
		return err
	}

	name := v.GetString(flags.WorkerName)
	if name == "" {
		name = namegen.New()
	}

	worker, err := cluster.NewWorker(client, cluster.WorkerConfig{
		Logger:   log.Base.With("component", "worker"),
		Name:     name,
		Slots:    v.GetInt(flags.Slots),
		Capacity: capacity,
		Executor: rt.Executor(),
		LocalDir: v.GetString(flags.LocalDir),
	})
	if err != nil {
		return err
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Worker stopped", "name", name)
	return nil
}
