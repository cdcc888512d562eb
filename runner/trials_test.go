package runner

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/gammadia/tune/experiment"
	"github.com/gammadia/tune/trial"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTrials(t *testing.T) {
	experiments := experiment.Normalize(experiment.Experiments{
		"b": {Run: "train", Env: "Pong-v0", LocalDir: "/results", Repeat: 2},
		"a": {
			Run:       "./bin/ppo",
			LocalDir:  "/results",
			Config:    map[string]any{"env": "CartPole-v0", "lr": map[string]any{"grid_search": []any{0.1, 0.01}}},
			Stop:      map[string]float64{"episode_reward_mean": 200},
			UploadDir: "s3://bucket",
		},
	})

	trials, err := createTrials(experiments)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"a/ppo_0_lr=0.1", "a/ppo_1_lr=0.01", "b/train_0", "b/train_1"},
		lo.Map(trials, func(t *trial.Trial, _ int) string { return t.FQN() }),
	)

	first := trials[0]
	assert.Len(t, first.ID, 8)
	assert.Equal(t, "./bin/ppo", first.Run)
	assert.Equal(t, 0.1, first.Config["lr"])
	assert.Equal(t, filepath.Join("/results", "a", "ppo_0_lr=0.1_"+first.ID), first.Dir)
	assert.Equal(t, experiment.DefaultResources(), first.Resources)
	assert.Equal(t, map[string]float64{"episode_reward_mean": 200}, first.Stop)
	assert.Equal(t, "s3://bucket", first.UploadDir)
	assert.Equal(t, trial.StatusPending, first.Status)

	assert.Equal(t, "Pong-v0", trials[2].Config["env"])
	assert.NotEqual(t, trials[2].ID, trials[3].ID)
}

func TestFormatItems(t *testing.T) {
	items := []string{"alpha", "beta", "gamma", "delta"}

	assert.Equal(t, "alpha beta gamma delta (📝 4)", formatItems(items, false, 0))
	assert.Equal(t, "alpha beta … (📝 4)", formatItems(items, false, 10))
	assert.Equal(t, "… gamma delta (📝 4)", formatItems(items, true, 11))
	assert.Equal(t, "", formatItems(nil, true, 0))
}

func TestFormatItemsCapsListWithoutWidth(t *testing.T) {
	items := make([]string, 30)
	for i := range items {
		items[i] = "t"
	}

	formatted := formatItems(items, false, 0)
	assert.Equal(t, strings.Repeat("t ", 19)+"t … (📝 30)", formatted)
}
