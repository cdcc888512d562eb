package experiment

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// Flags holds the trial-specific command line values used when no
// experiment file is given.
type Flags struct {
	Name           string
	Run            string
	Env            string
	CheckpointFreq int
	LocalDir       string
	TrialResources string
	Stop           string
	Config         string
	Restore        string
	Repeat         int
	UploadDir      string
}

// ParseError reports input that could not be decoded.
type ParseError struct {
	// Origin is the flag or file the input came from
	Origin string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Origin, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Build assembles the single-entry experiment mapping described by flags.
func Build(flags Flags) (Experiments, error) {
	resources, err := ParseResources(flags.TrialResources)
	if err != nil {
		return nil, &ParseError{"--trial-resources", err}
	}

	stop, err := parseStop(flags.Stop)
	if err != nil {
		return nil, &ParseError{"--stop", err}
	}

	config, err := decodeJSONObject(flags.Config)
	if err != nil {
		return nil, &ParseError{"--config", err}
	}
	if flags.Env != "" {
		config[EnvKey] = flags.Env
	}

	spec := Spec{
		Run:            flags.Run,
		CheckpointFreq: flags.CheckpointFreq,
		LocalDir:       flags.LocalDir,
		TrialResources: resources,
		Stop:           stop,
		Config:         config,
		Restore:        flags.Restore,
		Repeat:         flags.Repeat,
		UploadDir:      flags.UploadDir,
	}

	name := lo.Ternary(flags.Name != "", flags.Name, DefaultName)
	return Normalize(Experiments{name: spec}), nil
}

func parseStop(s string) (map[string]float64, error) {
	object, err := decodeJSONObject(s)
	if err != nil {
		return nil, err
	}

	stop := make(map[string]float64, len(object))
	for key, value := range object {
		switch v := value.(type) {
		case int64:
			stop[key] = float64(v)
		case float64:
			stop[key] = v
		default:
			return nil, fmt.Errorf("stop condition '%s' must be a number, got %s", key, string(lo.Must(json.Marshal(value))))
		}
	}
	return stop, nil
}
