package scheduler

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/gammadia/tune/scheduler/internal"
	"github.com/gammadia/tune/trial"
	"github.com/samber/lo"
)

// AsyncHyperBand implements asynchronous successive halving over several
// brackets. Each trial is assigned to one bracket; whenever it passes a
// rung milestone, it is stopped if its reward falls below the top
// 1/ReductionFactor of the rewards recorded at that rung so far.
type AsyncHyperBand struct {
	config Config
	log    *slog.Logger
	rand   *rand.Rand

	brackets []*bracket
	trials   map[string]*bracket

	nbStopped int
}

type rung struct {
	milestone float64
	recorded  map[string]float64
}

type bracket struct {
	reductionFactor float64
	rungs           []*rung
}

// AsyncHyperBand implements TrialScheduler
var _ TrialScheduler = (*AsyncHyperBand)(nil)

func NewAsyncHyperBand(config Config) (*AsyncHyperBand, error) {
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	scheduler := &AsyncHyperBand{
		config: config,
		log:    config.Logger,
		rand:   config.Rand,
		trials: make(map[string]*bracket),
	}
	if scheduler.log == nil {
		scheduler.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if scheduler.rand == nil {
		scheduler.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	for s := 0; s < config.Brackets; s++ {
		scheduler.brackets = append(scheduler.brackets, &bracket{
			reductionFactor: config.ReductionFactor,
			rungs: lo.Map(
				internal.Milestones(config.GracePeriod, config.MaxT, config.ReductionFactor, s),
				func(milestone float64, _ int) *rung {
					return &rung{milestone: milestone, recorded: make(map[string]float64)}
				},
			),
		})
	}

	return scheduler, nil
}

func (s *AsyncHyperBand) Config() Config {
	return s.config
}

// OnTrialAdd assigns the trial to a bracket, favoring brackets with more
// rungs (softmax over the number of rungs).
func (s *AsyncHyperBand) OnTrialAdd(t *trial.Trial) {
	sizes := lo.Map(s.brackets, func(b *bracket, _ int) float64 { return float64(len(b.rungs)) })
	largest := lo.Max(sizes)
	weights := lo.Map(sizes, func(size float64, _ int) float64 { return math.Exp(size - largest) })
	total := lo.Sum(weights)

	pick := s.rand.Float64() * total
	index := len(weights) - 1
	for i, weight := range weights {
		if pick < weight {
			index = i
			break
		}
		pick -= weight
	}

	s.trials[t.ID] = s.brackets[index]
	s.log.Debug("Trial assigned to bracket", "trial", t.Name, "bracket", index)
}

func (s *AsyncHyperBand) OnTrialResult(t *trial.Trial, result trial.Result) Decision {
	decision := Continue

	if elapsed, ok := result.Float(s.config.TimeAttr); ok && elapsed >= s.config.MaxT {
		decision = Stop
	} else if bracket, ok := s.trials[t.ID]; ok {
		decision = bracket.onResult(t, result, s.config, s.log)
	}

	if decision == Stop {
		s.nbStopped += 1
	}
	return decision
}

func (s *AsyncHyperBand) OnTrialComplete(t *trial.Trial, result trial.Result) {
	if bracket, ok := s.trials[t.ID]; ok && result != nil {
		bracket.onResult(t, result, s.config, s.log)
	}
	delete(s.trials, t.ID)
}

func (s *AsyncHyperBand) OnTrialError(t *trial.Trial) {
	delete(s.trials, t.ID)
}

func (s *AsyncHyperBand) OnTrialRemove(t *trial.Trial) {
	delete(s.trials, t.ID)
}

func (s *AsyncHyperBand) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Using AsyncHyperBand: num_stopped=%d", s.nbStopped)
	for i, b := range s.brackets {
		fmt.Fprintf(&sb, "\nBracket %d: %s", i, b)
	}
	return sb.String()
}

// onResult records the reward at the first unrecorded rung the trial has
// reached, and asks for the trial to stop if the reward is below the rung's
// cutoff.
func (b *bracket) onResult(t *trial.Trial, result trial.Result, config Config, log *slog.Logger) Decision {
	elapsed, ok := result.Float(config.TimeAttr)
	if !ok {
		return Continue
	}

	decision := Continue
	for _, r := range b.rungs {
		if _, recorded := r.recorded[t.ID]; elapsed < r.milestone || recorded {
			continue
		}

		reward, hasReward := result.Float(config.RewardAttr)
		if cutoff, ok := r.cutoff(b.reductionFactor); ok && hasReward && reward < cutoff {
			decision = Stop
		}
		if !hasReward {
			log.Warn("Reward attribute is missing from result, trial not recorded", "trial", t.Name, "attribute", config.RewardAttr)
		} else {
			r.recorded[t.ID] = reward
		}
		break
	}
	return decision
}

func (r *rung) cutoff(reductionFactor float64) (float64, bool) {
	if len(r.recorded) == 0 {
		return 0, false
	}
	return internal.Percentile(lo.Values(r.recorded), (1-1/reductionFactor)*100), true
}

func (b *bracket) String() string {
	return strings.Join(lo.Map(b.rungs, func(r *rung, _ int) string {
		cutoff, ok := r.cutoff(b.reductionFactor)
		return fmt.Sprintf("Iter %.0f: %s", r.milestone, lo.Ternary(ok, fmt.Sprintf("%.3f", cutoff), "None"))
	}), " | ")
}
