package experiment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// TemplateData is made available to experiment files, which are evaluated
// as Go templates before being decoded.
type TemplateData struct {
	Env    map[string]string
	Params map[string]string
}

// Read loads an experiment file: a mapping from experiment name to spec.
func Read(file string, params map[string]string) (Experiments, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	source, err := evaluateTemplate(string(buf), params)
	if err != nil {
		return nil, &ParseError{file, fmt.Errorf("evaluate template: %w", err)}
	}

	experiments, err := Decode(strings.NewReader(source))
	if err != nil {
		return nil, &ParseError{file, err}
	}

	return Normalize(experiments), nil
}

// Decode strictly decodes an experiment mapping. Unknown spec fields and
// documents that are not a mapping are rejected. Experiments without a
// repeat field run DefaultRepeat times; an explicit 0 is kept for Validate
// to reject.
func Decode(r io.Reader) (Experiments, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(buf))
	decoder.KnownFields(true)

	var experiments Experiments
	if err := decoder.Decode(&experiments); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("no experiments defined")
		}
		return nil, err
	}
	if experiments == nil {
		return nil, fmt.Errorf("no experiments defined")
	}

	var repeats map[string]struct {
		Repeat *int `yaml:"repeat"`
	}
	if err := yaml.Unmarshal(buf, &repeats); err != nil {
		return nil, err
	}
	for name, spec := range experiments {
		if repeats[name].Repeat == nil {
			spec.Repeat = DefaultRepeat
			experiments[name] = spec
		}
	}

	return experiments, nil
}

func evaluateTemplate(source string, params map[string]string) (string, error) {
	tmpl, err := template.New("experiments").
		Funcs(sprig.TxtFuncMap()).
		Funcs(template.FuncMap{
			"param": func(key string) (string, error) {
				if value, ok := params[key]; ok {
					return value, nil
				}
				return "", fmt.Errorf("parameter '%s' is not set", key)
			},
		}).
		Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := TemplateData{
		Env:    lo.SliceToMap(os.Environ(), func(env string) (key, val string) { key, val, _ = strings.Cut(env, "="); return }),
		Params: lo.Ternary(params != nil, params, map[string]string{}),
	}

	var output bytes.Buffer
	if err := tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return output.String(), nil
}
