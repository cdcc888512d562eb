package experiment

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

const gridSearchKey = "grid_search"

// Variant is one concrete configuration generated from a config that may
// contain grid searches.
type Variant struct {
	Config map[string]any
	// Tag summarizes the grid values of this variant, e.g. "lr=0.01,gamma=0.9"
	Tag string
}

type gridAxis struct {
	path   []string
	values []any
}

// Variants expands every `{"grid_search": [...]}` value of config into the
// cartesian product of all grids. A config without grid searches yields a
// single variant with an empty tag.
func Variants(config map[string]any) ([]Variant, error) {
	var axes []gridAxis
	if err := collectGrids(config, nil, &axes); err != nil {
		return nil, err
	}
	slices.SortFunc(axes, func(a, b gridAxis) int {
		return strings.Compare(strings.Join(a.path, "/"), strings.Join(b.path, "/"))
	})

	for _, axis := range axes {
		if len(axis.values) == 0 {
			return nil, fmt.Errorf("grid_search for '%s' has no values", strings.Join(axis.path, "/"))
		}
	}

	indices := make([]int, len(axes))
	var variants []Variant
	for {
		variant := Variant{Config: deepCopy(config).(map[string]any)}
		tags := make([]string, len(axes))
		for i, axis := range axes {
			value := axis.values[indices[i]]
			setPath(variant.Config, axis.path, deepCopy(value))
			tags[i] = fmt.Sprintf("%s=%v", axis.path[len(axis.path)-1], value)
		}
		variant.Tag = strings.Join(tags, ",")
		variants = append(variants, variant)

		if !next(indices, axes) {
			return variants, nil
		}
	}
}

// next advances indices like an odometer, the last axis moving fastest.
func next(indices []int, axes []gridAxis) bool {
	for i := len(indices) - 1; i >= 0; i-- {
		indices[i]++
		if indices[i] < len(axes[i].values) {
			return true
		}
		indices[i] = 0
	}
	return false
}

func collectGrids(value map[string]any, path []string, axes *[]gridAxis) error {
	for key, item := range value {
		nested, ok := asMap(item)
		if !ok {
			continue
		}
		itemPath := append(slices.Clone(path), key)

		if grid, isGrid := nested[gridSearchKey]; isGrid && len(nested) == 1 {
			values, ok := grid.([]any)
			if !ok {
				return fmt.Errorf("grid_search for '%s' must be a list", strings.Join(itemPath, "/"))
			}
			*axes = append(*axes, gridAxis{itemPath, values})
			continue
		}

		if err := collectGrids(nested, itemPath, axes); err != nil {
			return err
		}
	}
	return nil
}

func setPath(config map[string]any, path []string, value any) {
	current := config
	for _, key := range path[:len(path)-1] {
		current = lo.Must(asMap(current[key]))
	}
	current[path[len(path)-1]] = value
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	default:
		return nil, false
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(v))
		for key, item := range v {
			copied[key] = deepCopy(item)
		}
		return copied
	case []any:
		return lo.Map(v, func(item any, _ int) any { return deepCopy(item) })
	default:
		return v
	}
}
