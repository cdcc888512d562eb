package experiment

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// DefaultName is the experiment name used when experiments are described with flags.
const DefaultName = "default"

// EnvKey is the reserved config key holding the environment identifier.
const EnvKey = "env"

// DefaultRepeat is the number of times trials run when repeat is not given.
const DefaultRepeat = 1

// DefaultLocalDir is where results are written when no local_dir is given.
var DefaultLocalDir = "~/tune_results"

// Spec describes one named experiment.
type Spec struct {
	Run            string             `yaml:"run" json:"run"`
	Env            string             `yaml:"env,omitempty" json:"env,omitempty"`
	CheckpointFreq int                `yaml:"checkpoint_freq" json:"checkpoint_freq"`
	LocalDir       string             `yaml:"local_dir" json:"local_dir"`
	TrialResources *Resources         `yaml:"trial_resources,omitempty" json:"trial_resources,omitempty"`
	Stop           map[string]float64 `yaml:"stop" json:"stop"`
	Config         map[string]any     `yaml:"config" json:"config"`
	Restore        string             `yaml:"restore,omitempty" json:"restore,omitempty"`
	Repeat         int                `yaml:"repeat" json:"repeat"`
	UploadDir      string             `yaml:"upload_dir,omitempty" json:"upload_dir,omitempty"`
}

// Experiments maps experiment names to their spec.
type Experiments map[string]Spec

// Names returns the experiment names in a stable order.
func (e Experiments) Names() []string {
	names := lo.Keys(e)
	slices.Sort(names)
	return names
}

// ResolvedEnv returns the environment identifier, looking at the top-level
// field first and then at config.env.
func (s Spec) ResolvedEnv() string {
	if s.Env != "" {
		return s.Env
	}
	if env, ok := s.Config[EnvKey].(string); ok {
		return env
	}
	return ""
}

// Resources returns the requested trial resources, or the default request
// of a single CPU when none were given.
func (s Spec) Resources() Resources {
	if s.TrialResources == nil {
		return DefaultResources()
	}
	return *s.TrialResources
}

// ResultsDir returns the directory the experiment's trials write into, with
// a leading ~ expanded to the user's home directory.
func (s Spec) ResultsDir(name string) string {
	return filepath.Join(ExpandHome(s.LocalDir), name)
}

// ExpandHome expands a leading "~/" in p.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Normalize applies defaults to every experiment and merges the top-level
// environment identifier into config.env. The input is not modified.
func Normalize(experiments Experiments) Experiments {
	normalized := make(Experiments, len(experiments))
	for name, spec := range experiments {
		normalized[name] = normalizeSpec(spec)
	}
	return normalized
}

func normalizeSpec(spec Spec) Spec {
	if spec.LocalDir == "" {
		spec.LocalDir = DefaultLocalDir
	}

	stop := make(map[string]float64, len(spec.Stop))
	maps.Copy(stop, spec.Stop)
	spec.Stop = stop

	config := make(map[string]any, len(spec.Config)+1)
	maps.Copy(config, spec.Config)
	if spec.Env != "" {
		config[EnvKey] = spec.Env
	}
	spec.Config = config

	if spec.TrialResources != nil {
		resources := *spec.TrialResources
		spec.TrialResources = &resources
	}

	return spec
}
