package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gammadia/tune/experiment"
	"github.com/gammadia/tune/trial"
	"github.com/google/uuid"
)

// Files written in every trial directory
const (
	ParamsFile = "params.json"
	ResultFile = "result.json"
	ErrorFile  = "error.txt"
)

// createTrials expands the experiments into trials, experiments in name
// order, each repeated and expanded over its grid search variants.
func createTrials(experiments experiment.Experiments) ([]*trial.Trial, error) {
	var trials []*trial.Trial

	for _, name := range experiments.Names() {
		spec := experiments[name]
		variants, err := experiment.Variants(spec.Config)
		if err != nil {
			return nil, fmt.Errorf("experiment '%s': %w", name, err)
		}

		index := 0
		for range max(spec.Repeat, 1) {
			for _, variant := range variants {
				id := newTrialID()
				trialName := fmt.Sprintf("%s_%d", sanitize(filepath.Base(spec.Run)), index)
				if variant.Tag != "" {
					trialName += "_" + sanitize(variant.Tag)
				}
				index += 1

				trials = append(trials, &trial.Trial{
					Request: trial.Request{
						ID:             id,
						Name:           trialName,
						Experiment:     name,
						Run:            spec.Run,
						Config:         variant.Config,
						Dir:            filepath.Join(spec.ResultsDir(name), trialName+"_"+id),
						Restore:        spec.Restore,
						CheckpointFreq: spec.CheckpointFreq,
						Resources:      spec.Resources(),
					},
					Status:    trial.StatusPending,
					Stop:      spec.Stop,
					UploadDir: spec.UploadDir,
				})
			}
		}
	}

	return trials, nil
}

func newTrialID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// sanitize keeps names usable as directory names.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' || r == ':' {
			return '_'
		}
		return r
	}, name)
}

func writeParams(t *trial.Trial) error {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create trial directory: %w", err)
	}

	params, err := json.MarshalIndent(t.Config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trial params: %w", err)
	}
	if err := os.WriteFile(filepath.Join(t.Dir, ParamsFile), params, 0o644); err != nil {
		return fmt.Errorf("failed to write trial params: %w", err)
	}
	return nil
}
