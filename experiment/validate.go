package experiment

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ValidationError identifies the experiment that failed validation and why.
type ValidationError struct {
	Experiment string
	// Missing lists required fields that are absent, as their flag names
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("experiment '%s': the following arguments are required: %s", e.Experiment, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("experiment '%s': %s", e.Experiment, e.Reason)
}

// Validate checks every experiment and stops at the first invalid one.
// Either every experiment is valid or the whole mapping is rejected.
func Validate(experiments Experiments) error {
	if len(experiments) == 0 {
		return fmt.Errorf("no experiments defined")
	}

	for _, name := range experiments.Names() {
		if err := validateSpec(name, experiments[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateSpec(name string, spec Spec) error {
	var missing []string
	if spec.Run == "" {
		missing = append(missing, "--run")
	}
	if !hasEnv(spec) {
		missing = append(missing, "--env")
	}
	if len(missing) > 0 {
		return &ValidationError{Experiment: name, Missing: missing}
	}

	if spec.CheckpointFreq < 0 {
		return &ValidationError{Experiment: name, Reason: "checkpoint_freq must not be negative"}
	}
	if spec.Repeat < 1 {
		return &ValidationError{Experiment: name, Reason: "repeat must be greater than 0"}
	}
	if spec.TrialResources != nil {
		if err := spec.TrialResources.validate(); err != nil {
			return &ValidationError{Experiment: name, Reason: "trial_resources: " + err.Error()}
		}
	}
	if _, err := Variants(spec.Config); err != nil {
		return &ValidationError{Experiment: name, Reason: "config: " + err.Error()}
	}

	return nil
}

// hasEnv reports whether every trial of the experiment gets an environment
// identifier, either from the top level or from each variant of the config.
func hasEnv(spec Spec) bool {
	if spec.Env != "" {
		return true
	}

	variants, err := Variants(spec.Config)
	if err != nil {
		return spec.ResolvedEnv() != ""
	}
	return lo.EveryBy(variants, func(v Variant) bool {
		env, ok := v.Config[EnvKey].(string)
		return ok && env != ""
	})
}
