package experiment

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantsWithoutGrid(t *testing.T) {
	config := map[string]any{"env": "CartPole-v0", "lr": 0.1}

	variants, err := Variants(config)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "", variants[0].Tag)
	assert.Equal(t, config, variants[0].Config)
}

func TestVariantsCartesianProduct(t *testing.T) {
	config := map[string]any{
		"env": "CartPole-v0",
		"lr":  map[string]any{"grid_search": []any{0.01, 0.001}},
		"model": map[string]any{
			"hidden": map[string]any{"grid_search": []any{32, 64, 128}},
		},
	}

	variants, err := Variants(config)
	require.NoError(t, err)
	require.Len(t, variants, 6)

	assert.Equal(t, []string{
		"lr=0.01,hidden=32",
		"lr=0.01,hidden=64",
		"lr=0.01,hidden=128",
		"lr=0.001,hidden=32",
		"lr=0.001,hidden=64",
		"lr=0.001,hidden=128",
	}, lo.Map(variants, func(v Variant, _ int) string { return v.Tag }))

	assert.Equal(t, map[string]any{
		"env":   "CartPole-v0",
		"lr":    0.001,
		"model": map[string]any{"hidden": 128},
	}, variants[5].Config)

	// The source config is left untouched
	assert.Equal(t, map[string]any{"grid_search": []any{0.01, 0.001}}, config["lr"])
}

func TestVariantsRejectsEmptyGrid(t *testing.T) {
	_, err := Variants(map[string]any{"lr": map[string]any{"grid_search": []any{}}})
	assert.EqualError(t, err, "grid_search for 'lr' has no values")
}
