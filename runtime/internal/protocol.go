package internal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/gammadia/tune/trial"
)

// Environment variables passed to trainables
const (
	EnvTrialID        = "TUNE_TRIAL_ID"
	EnvTrialName      = "TUNE_TRIAL_NAME"
	EnvExperiment     = "TUNE_EXPERIMENT"
	EnvTrialDir       = "TUNE_TRIAL_DIR"
	EnvConfig         = "TUNE_CONFIG"
	EnvRestore        = "TUNE_RESTORE"
	EnvCheckpointFreq = "TUNE_CHECKPOINT_FREQ"
)

// Files written in the trial directory
const (
	StdoutLog = "stdout.log"
	StderrLog = "stderr.log"
)

const maxLineSize = 1024 * 1024

// Env returns the environment of the trainable for req, with dir as its
// trial directory.
func Env(req trial.Request, dir string) ([]string, error) {
	config, err := json.Marshal(req.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trial config: %w", err)
	}

	return []string{
		EnvTrialID + "=" + req.ID,
		EnvTrialName + "=" + req.Name,
		EnvExperiment + "=" + req.Experiment,
		EnvTrialDir + "=" + dir,
		EnvConfig + "=" + string(config),
		EnvRestore + "=" + req.Restore,
		EnvCheckpointFreq + "=" + strconv.Itoa(req.CheckpointFreq),
	}, nil
}

// ScanResults reads the trainable's stdout. Every line holding a JSON
// object is reported as a result, every other line is copied to passthrough.
func ScanResults(r io.Reader, report func(trial.Result), passthrough io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if result, ok := parseResult(line); ok {
			report(result)
			continue
		}
		if _, err := fmt.Fprintf(passthrough, "%s\n", line); err != nil {
			return fmt.Errorf("failed to write trainable output: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read trainable output: %w", err)
	}
	return nil
}

func parseResult(line []byte) (trial.Result, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var result trial.Result
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, false
	}
	return result, true
}
