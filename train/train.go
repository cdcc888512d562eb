package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gammadia/tune/dispatch"
	"github.com/gammadia/tune/experiment"
	"github.com/gammadia/tune/flags"
	"github.com/gammadia/tune/log"
	"github.com/gammadia/tune/runner"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/scheduler"
	"github.com/gammadia/tune/train/ui"
	"github.com/gammadia/tune/upload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// trainer holds the collaborators of the train command, swapped out in tests.
type trainer struct {
	init dispatch.InitFunc
	run  dispatch.RunFunc
}

func newTrainCmd(t trainer) *cobra.Command {
	var v *viper.Viper

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run hyperparameter tuning experiments",
		Long: "Run hyperparameter tuning experiments described either by an experiment file (-f) " +
			"or by trial-specific flags, on this machine or on a cluster of workers.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			return t.train(cmd, v)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(flags.NormalizeAliases)
	flags.AddLogFlags(fs, "text")

	fs.StringP(flags.ConfigFile, "f", "", "experiment file, trial-specific flags are ignored when given")
	fs.StringToString(flags.Param, nil, "template parameter of the experiment file (key=value)")
	fs.String(flags.ExperimentName, experiment.DefaultName, "name of the experiment")
	fs.String(flags.Run, "", "trainable to run")
	fs.String(flags.Env, "", "environment identifier passed to the trainable")
	fs.Int(flags.CheckpointFreq, 0, "how many training iterations between checkpoints, 0 disables checkpoints")
	fs.String(flags.LocalDir, experiment.DefaultLocalDir, "where results are written")
	fs.String(flags.UploadDir, "", "where trial results are uploaded (s3://bucket/prefix or a directory)")
	fs.String(flags.Stop, "", "stopping criteria as a JSON object")
	fs.String(flags.Config, "", "trainable configuration as a JSON object")
	fs.Int(flags.Repeat, experiment.DefaultRepeat, "number of times each trial is repeated")
	fs.String(flags.Restore, "", "checkpoint the trials restore from")
	fs.String(flags.TrialResources, "", `resources of each trial as a JSON object, e.g. {"cpu": 1, "gpu": 0}`)
	fs.Bool(flags.DryRun, false, "print the experiments and exit without running them")

	fs.Bool(flags.Cluster, false, "run trials on a cluster of workers instead of this machine")
	fs.String(flags.ClusterAddress, runtime.DefaultClusterAddress, "address of the cluster coordination service")
	fs.String(flags.ClusterSSH, "", "reach the cluster through an ssh tunnel (user@host[:port])")
	fs.Int(flags.NumCPUs, 0, "number of CPUs trials may use on this machine (default all)")
	fs.Int(flags.NumGPUs, 0, "number of GPUs trials may use on this machine")
	fs.String(flags.Executor, runtime.ExecutorProcess, "how trainables are launched (process, docker)")
	fs.String(flags.TrainableDir, "", "directory searched for trainables before PATH")
	fs.Bool(flags.QueueTrials, false, "wait for resources instead of failing when a trial does not fit")
	fs.Duration(flags.StatusInterval, runner.DefaultStatusInterval, "interval between status reports")

	v = flags.NewViper(fs)

	cmd.AddCommand(
		newVersionCmd(),
		newCompletionCmd(cmd),
	)
	return cmd
}

func (t trainer) train(cmd *cobra.Command, v *viper.Viper) error {
	if err := log.Init(v, cmd.ErrOrStderr(), "train"); err != nil {
		return err
	}

	experiments, err := resolveExperiments(v)
	if err != nil {
		return err
	}

	if v.GetBool(flags.DryRun) {
		encoder := yaml.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent(2)
		if err := encoder.Encode(experiments); err != nil {
			return fmt.Errorf("failed to print experiments: %w", err)
		}
		return encoder.Close()
	}

	sched := scheduler.NewDefault(log.Base.With("component", "scheduler"))
	opts := runtimeOptions(v)

	d := dispatch.New(t.runner(cmd, v), log.Base)
	d.Init = t.initWithSpinner(cmd)
	return d.Dispatch(cmd.Context(), opts, experiments, sched, v.GetBool(flags.QueueTrials))
}

// resolveExperiments reads the experiments from the file or the flags and
// validates all of them.
func resolveExperiments(v *viper.Viper) (experiment.Experiments, error) {
	source := experiment.NewSource(
		v.GetString(flags.ConfigFile),
		v.GetStringMapString(flags.Param),
		experiment.Flags{
			Name:           v.GetString(flags.ExperimentName),
			Run:            v.GetString(flags.Run),
			Env:            v.GetString(flags.Env),
			CheckpointFreq: v.GetInt(flags.CheckpointFreq),
			LocalDir:       v.GetString(flags.LocalDir),
			TrialResources: v.GetString(flags.TrialResources),
			Stop:           v.GetString(flags.Stop),
			Config:         v.GetString(flags.Config),
			Restore:        v.GetString(flags.Restore),
			Repeat:         v.GetInt(flags.Repeat),
			UploadDir:      v.GetString(flags.UploadDir),
		},
	)

	experiments, err := source.Resolve()
	if err != nil {
		return nil, err
	}
	if err := experiment.Validate(experiments); err != nil {
		return nil, err
	}
	return experiments, nil
}

func runtimeOptions(v *viper.Viper) runtime.Options {
	opts := runtime.Options{
		Logger:       log.Base,
		Mode:         runtime.ModeLocal,
		Executor:     v.GetString(flags.Executor),
		TrainableDir: v.GetString(flags.TrainableDir),
	}

	if v.GetBool(flags.Cluster) {
		opts.Mode = runtime.ModeCluster
		opts.ClusterAddress = v.GetString(flags.ClusterAddress)
		opts.SSHTunnel = v.GetString(flags.ClusterSSH)
	} else {
		opts.NumCPUs = flags.IntPtr(v, flags.NumCPUs)
		opts.NumGPUs = flags.IntPtr(v, flags.NumGPUs)
	}
	return opts
}

// initWithSpinner shows progress while the runtime comes up, which may take
// a while when connecting to a cluster.
func (t trainer) initWithSpinner(cmd *cobra.Command) dispatch.InitFunc {
	return func(ctx context.Context, opts runtime.Options) (runtime.Runtime, error) {
		initRuntime := t.init
		if initRuntime == nil {
			initRuntime = dispatch.InitRuntime
		}

		s := ui.NewSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Initializing %s runtime", opts.Mode))
		rt, err := initRuntime(ctx, opts)
		if err != nil {
			s.Fail()
			return nil, err
		}
		s.Success()
		return rt, nil
	}
}

func (t trainer) runner(cmd *cobra.Command, v *viper.Viper) dispatch.RunFunc {
	if t.run != nil {
		return t.run
	}

	return func(ctx context.Context, rt runtime.Runtime, experiments experiment.Experiments, sched scheduler.TrialScheduler, queueTrials bool) error {
		out := cmd.OutOrStdout()
		r := runner.New(rt, sched, runner.Config{
			Logger:         log.Base.With("component", "runner"),
			QueueTrials:    queueTrials,
			Output:         out,
			StatusInterval: v.GetDuration(flags.StatusInterval),
			TermWidth:      func() int { return ui.TerminalWidth(out) },
			NewUploader:    upload.New,
			Now:            time.Now,
		})
		defer func() {
			if err := rt.Close(); err != nil {
				log.Warn("Failed to close runtime", "error", err)
			}
		}()
		return r.Run(ctx, experiments)
	}
}
