package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Resources is a per-trial resource request.
type Resources struct {
	CPU      int `yaml:"cpu" json:"cpu"`
	GPU      int `yaml:"gpu" json:"gpu"`
	ExtraCPU int `yaml:"extra_cpu,omitempty" json:"extra_cpu,omitempty"`
	ExtraGPU int `yaml:"extra_gpu,omitempty" json:"extra_gpu,omitempty"`
}

// DefaultResources is the request of a trial that does not specify one.
func DefaultResources() Resources {
	return Resources{CPU: 1}
}

// TotalCPU is the number of CPUs the trial holds while running.
func (r Resources) TotalCPU() int {
	return r.CPU + r.ExtraCPU
}

// TotalGPU is the number of GPUs the trial holds while running.
func (r Resources) TotalGPU() int {
	return r.GPU + r.ExtraGPU
}

func (r Resources) String() string {
	return fmt.Sprintf("%d CPUs, %d GPUs", r.TotalCPU(), r.TotalGPU())
}

func (r Resources) validate() error {
	if r.CPU < 0 || r.GPU < 0 || r.ExtraCPU < 0 || r.ExtraGPU < 0 {
		return fmt.Errorf("resource counts must not be negative")
	}
	return nil
}

// ParseResources decodes a textual resource request such as
// `{"cpu": 2, "gpu": 1}`. An empty string yields nil.
func ParseResources(s string) (*Resources, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var resources Resources
	if err := decodeJSON(s, &resources); err != nil {
		return nil, err
	}
	if err := resources.validate(); err != nil {
		return nil, err
	}
	return &resources, nil
}

func decodeJSON(s string, v any) error {
	decoder := json.NewDecoder(strings.NewReader(s))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// decodeJSONObject decodes a JSON object into a free-form map, keeping
// integers as int64 and other numbers as float64.
func decodeJSONObject(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(s)))
	decoder.UseNumber()

	var object map[string]any
	if err := decoder.Decode(&object); err != nil {
		return nil, err
	}
	if object == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return convertNumbers(object).(map[string]any), nil
}

func convertNumbers(v any) any {
	switch value := v.(type) {
	case map[string]any:
		for key, item := range value {
			value[key] = convertNumbers(item)
		}
		return value
	case []any:
		for i, item := range value {
			value[i] = convertNumbers(item)
		}
		return value
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		f, _ := value.Float64()
		return f
	default:
		return v
	}
}
