package flags

import (
	"strings"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables every flag can be set with.
const EnvPrefix = "tune"

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"

	// Experiment
	ConfigFile     = "config-file"
	Param          = "param"
	ExperimentName = "experiment-name"
	Run            = "run"
	Env            = "env"
	CheckpointFreq = "checkpoint-freq"
	LocalDir       = "local-dir"
	UploadDir      = "upload-dir"
	Stop           = "stop"
	Config         = "config"
	Repeat         = "repeat"
	Restore        = "restore"
	TrialResources = "trial-resources"
	DryRun         = "dry-run"

	// Runtime
	Cluster        = "cluster"
	ClusterAddress = "cluster-address"
	ClusterSSH     = "cluster-ssh"
	NumCPUs        = "num-cpus"
	NumGPUs        = "num-gpus"
	Executor       = "executor"
	TrainableDir   = "trainable-dir"
	QueueTrials    = "queue-trials"
	StatusInterval = "status-interval"

	// Worker
	WorkerName = "name"
	Slots      = "slots"
)

// Former spellings still accepted on the command line
var aliases = map[string]string{
	"ray-num-cpus":  NumCPUs,
	"ray-num-gpus":  NumGPUs,
	"redis-address": ClusterAddress,
}

// NormalizeAliases maps former flag spellings to their current name.
func NormalizeAliases(_ *flag.FlagSet, name string) flag.NormalizedName {
	name = strings.ReplaceAll(name, "_", "-")
	if alias, ok := aliases[name]; ok {
		return flag.NormalizedName(alias)
	}
	return flag.NormalizedName(name)
}

// AddLogFlags declares the logging flags with the given default format.
func AddLogFlags(flags *flag.FlagSet, defaultFormat string) {
	flags.String(LogFormat, defaultFormat, "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
}

// NewViper binds flags to a configuration where every flag can also be set
// through a TUNE_ prefixed environment variable.
func NewViper(flags *flag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(v.BindPFlags(flags))
	return v
}

// IntPtr returns the value of an optional integer setting, nil when it was
// neither given on the command line nor through the environment.
func IntPtr(v *viper.Viper, key string) *int {
	if !v.IsSet(key) {
		return nil
	}
	return lo.ToPtr(v.GetInt(key))
}
