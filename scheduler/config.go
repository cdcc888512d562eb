package scheduler

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
)

// Fixed early-stopping policy used by the train command.
const (
	DefaultGracePeriod     = 3
	DefaultReductionFactor = 4
	DefaultMaxT            = 100
	DefaultBrackets        = 3
)

type Config struct {
	Logger *slog.Logger `json:"-"`
	// Rand picks brackets for new trials; seeded randomly when nil
	Rand *rand.Rand `json:"-"`
	// Minimum time a trial runs before it may be stopped early
	GracePeriod float64 `json:"grace-period"`
	// How aggressively trials are pruned between rungs
	ReductionFactor float64 `json:"reduction-factor"`
	// Trials are stopped once they reach this time
	MaxT     float64 `json:"max-t"`
	Brackets int     `json:"brackets"`
	// Result key measuring training time
	TimeAttr string `json:"time-attr"`
	// Result key measuring trial performance, higher is better
	RewardAttr string `json:"reward-attr"`
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:     DefaultGracePeriod,
		ReductionFactor: DefaultReductionFactor,
		MaxT:            DefaultMaxT,
		Brackets:        DefaultBrackets,
		TimeAttr:        "training_iteration",
		RewardAttr:      "episode_reward_mean",
	}
}

func Validate(config Config) error {
	if config.GracePeriod <= 0 {
		return fmt.Errorf("grace-period must be greater than 0")
	}
	if config.ReductionFactor <= 1 {
		return fmt.Errorf("reduction-factor must be greater than 1")
	}
	if config.MaxT < config.GracePeriod {
		return fmt.Errorf("max-t must be greater than or equal to grace-period")
	}
	if config.Brackets < 1 {
		return fmt.Errorf("brackets must be greater than 0")
	}
	if config.TimeAttr == "" || config.RewardAttr == "" {
		return fmt.Errorf("time-attr and reward-attr are required")
	}
	return nil
}
