package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gammadia/tune/experiment"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/scheduler"
	"github.com/gammadia/tune/trial"
	"github.com/gammadia/tune/upload"
	"github.com/samber/lo"
)

const DefaultStatusInterval = 30 * time.Second

type Config struct {
	Logger *slog.Logger
	// Trials that cannot be resourced yet wait instead of failing the run
	QueueTrials bool
	// Status reports are written to Output, nil disables them
	Output         io.Writer
	StatusInterval time.Duration
	TermWidth      func() int
	NewUploader    func(ctx context.Context, uri string) (upload.Uploader, error)
	Now            func() time.Time
}

// Runner runs trials on a runtime until they all end. Trial state is owned
// by the goroutine executing Run; executors report through events.
type Runner struct {
	rt       runtime.Runtime
	executor runtime.Executor
	sched    scheduler.TrialScheduler
	config   Config
	log      *slog.Logger

	trials   []*trial.Trial
	pending  []*trial.Trial
	running  map[string]*runningTrial
	capacity runtime.Capacity
	used     runtime.Capacity
	stopping bool

	events       chan event
	tickRequests chan any
	uploads      sync.WaitGroup
}

type runningTrial struct {
	trial  *trial.Trial
	ctx    context.Context
	cancel context.CancelFunc
	need   runtime.Capacity
	output *os.File

	// The scheduler already knows the outcome of the trial
	reported      bool
	stopRequested bool
}

func New(rt runtime.Runtime, sched scheduler.TrialScheduler, config Config) *Runner {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = DefaultStatusInterval
	}
	if config.TermWidth == nil {
		config.TermWidth = func() int { return 0 }
	}
	if config.NewUploader == nil {
		config.NewUploader = upload.New
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Runner{
		rt:       rt,
		executor: rt.Executor(),
		sched:    sched,
		config:   config,
		log:      config.Logger,

		running: make(map[string]*runningTrial),

		events:       make(chan event),
		tickRequests: make(chan any, 1),
	}
}

// Trials returns every trial of the run with its final state.
func (r *Runner) Trials() []*trial.Trial {
	return r.trials
}

// Run creates the trials of the experiments and blocks until all of them
// ended. Cancelling ctx stops the running trials, Run then returns ctx.Err().
func (r *Runner) Run(ctx context.Context, experiments experiment.Experiments) error {
	trials, err := createTrials(experiments)
	if err != nil {
		return err
	}
	r.trials = trials
	r.pending = slices.Clone(trials)

	if r.capacity, err = r.rt.Capacity(ctx); err != nil {
		return fmt.Errorf("failed to get %s runtime capacity: %w", r.rt.Name(), err)
	}
	if !r.config.QueueTrials {
		for _, t := range trials {
			if need := runtime.CapacityOf(t.Resources); !r.capacity.Fits(need) {
				return &InsufficientResourcesError{Trial: t.FQN(), Requested: need, Available: r.capacity}
			}
		}
	}

	for _, t := range trials {
		r.sched.OnTrialAdd(t)
	}
	r.log.Info("Running trials", "trials", len(trials), "runtime", r.rt.Name(), "capacity", r.capacity.String())

	ticker := time.NewTicker(r.config.StatusInterval)
	defer ticker.Stop()
	done := ctx.Done()

	r.requestTick()
	for len(r.pending) > 0 || len(r.running) > 0 {
		select {
		case <-r.tickRequests:
			r.launchTrials(ctx)

		case ev := <-r.events:
			switch ev := ev.(type) {
			case eventTrialResult:
				r.onResult(ev)
			case eventTrialFinished:
				r.onFinished(ev)
			}

		case <-ticker.C:
			r.refreshCapacity(ctx)
			r.report()

		case <-done:
			done = nil
			r.shutdown()
		}
	}

	r.uploads.Wait()
	r.report()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errored := lo.Filter(trials, func(t *trial.Trial, _ int) bool { return t.Status == trial.StatusError }); len(errored) > 0 {
		return &TrialsError{Trials: lo.Map(errored, func(t *trial.Trial, _ int) string { return t.FQN() })}
	}
	return nil
}

// requestTick requests pending trials to be launched as soon as possible.
// If a tick is already requested, this function does nothing.
func (r *Runner) requestTick() {
	select {
	case r.tickRequests <- nil:
	default:
	}
}

// launchTrials starts pending trials in order, as long as they fit in the
// free capacity. A trial that does not fit is launched anyway when nothing
// else is running, so that queued trials reach autoscaling clusters.
func (r *Runner) launchTrials(ctx context.Context) {
	for !r.stopping && len(r.pending) > 0 {
		t := r.pending[0]
		need := runtime.CapacityOf(t.Resources)

		if free := r.capacity.Sub(r.used); !free.Fits(need) {
			if len(r.running) > 0 {
				return
			}
			r.log.Warn("Launching trial beyond available resources", "trial", t.FQN(), "requested", need.String(), "available", r.capacity.String())
		}

		r.pending = r.pending[1:]
		r.startTrial(ctx, t, need)
	}
}

func (r *Runner) startTrial(ctx context.Context, t *trial.Trial, need runtime.Capacity) {
	t.Started = r.config.Now()

	if err := writeParams(t); err != nil {
		r.endTrial(t, err)
		return
	}
	output, err := os.OpenFile(filepath.Join(t.Dir, ResultFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.endTrial(t, fmt.Errorf("failed to open result file: %w", err))
		return
	}

	trialCtx, cancel := context.WithCancel(ctx)
	r.running[t.ID] = &runningTrial{
		trial:  t,
		ctx:    trialCtx,
		cancel: cancel,
		need:   need,
		output: output,
	}
	r.used = r.used.Add(need)
	t.Status = trial.StatusRunning
	r.log.Info("Trial started", "trial", t.FQN(), "resources", t.Resources.String())

	req := t.Request
	go func() {
		err := r.executor.Execute(trialCtx, req, func(result trial.Result) {
			r.events <- eventTrialResult{id: req.ID, result: result}
		})
		r.events <- eventTrialFinished{id: req.ID, err: err}
	}()
}

func (r *Runner) onResult(ev eventTrialResult) {
	rt, ok := r.running[ev.id]
	if !ok || rt.stopRequested {
		return
	}
	t := rt.trial

	result := r.enrich(t, ev.result)
	t.LastResult = result
	if checkpoint := result.Checkpoint(); checkpoint != "" {
		t.Checkpoint = checkpoint
	}
	if line, err := json.Marshal(result); err != nil {
		r.log.Error("Failed to encode result", "trial", t.FQN(), "error", err)
	} else if _, err := rt.output.Write(append(line, '\n')); err != nil {
		r.log.Error("Failed to write result", "trial", t.FQN(), "error", err)
	}

	if t.ShouldStop(result) {
		r.log.Debug("Trial reached a stopping condition", "trial", t.FQN(), "iteration", result.Iteration())
		r.sched.OnTrialComplete(t, result)
		rt.reported = true
		r.stopTrial(rt)
		return
	}

	if r.sched.OnTrialResult(t, result) == scheduler.Stop {
		r.log.Info("Trial stopped by scheduler", "trial", t.FQN(), "iteration", result.Iteration())
		r.sched.OnTrialRemove(t)
		rt.reported = true
		r.stopTrial(rt)
	}
}

func (r *Runner) onFinished(ev eventTrialFinished) {
	rt, ok := r.running[ev.id]
	if !ok {
		return
	}
	delete(r.running, ev.id)
	r.used = r.used.Sub(rt.need)

	// A trial we cancelled ended on our request, whatever its executor says.
	err := lo.Ternary(rt.ctx.Err() != nil, nil, ev.err)
	rt.cancel()
	if closeErr := rt.output.Close(); closeErr != nil {
		r.log.Error("Failed to close result file", "trial", rt.trial.FQN(), "error", closeErr)
	}

	if err == nil && !rt.reported {
		if r.stopping {
			r.sched.OnTrialRemove(rt.trial)
		} else {
			r.sched.OnTrialComplete(rt.trial, rt.trial.LastResult)
		}
	}
	r.endTrial(rt.trial, err)
	r.requestTick()
}

// endTrial records the final state of a trial that is no longer running.
func (r *Runner) endTrial(t *trial.Trial, err error) {
	t.Ended = r.config.Now()

	if err == nil {
		t.Status = trial.StatusTerminated
		r.log.Info("Trial terminated", "trial", t.FQN(), "iterations", t.LastResult.Iteration(), "duration", t.Ended.Sub(t.Started).Truncate(time.Second))
	} else {
		t.Status = trial.StatusError
		t.Err = err
		r.sched.OnTrialError(t)
		r.log.Error("Trial errored", "trial", t.FQN(), "error", err)
		if writeErr := os.WriteFile(filepath.Join(t.Dir, ErrorFile), []byte(err.Error()+"\n"), 0o644); writeErr != nil {
			r.log.Debug("Failed to write error file", "trial", t.FQN(), "error", writeErr)
		}
	}

	if t.UploadDir != "" {
		r.uploadTrial(t)
	}
}

func (r *Runner) stopTrial(rt *runningTrial) {
	rt.stopRequested = true
	rt.cancel()
}

// shutdown stops every running trial; pending trials are never launched.
func (r *Runner) shutdown() {
	r.log.Info("Stopping trials", "running", len(r.running), "pending", len(r.pending))
	r.stopping = true
	r.pending = nil
	for _, rt := range r.running {
		r.stopTrial(rt)
	}
}

// refreshCapacity picks up resources added to the runtime while trials wait.
func (r *Runner) refreshCapacity(ctx context.Context) {
	if !r.config.QueueTrials || len(r.pending) == 0 {
		return
	}

	capacity, err := r.rt.Capacity(ctx)
	if err != nil {
		r.log.Warn("Failed to refresh runtime capacity", "error", err)
		return
	}
	if capacity != r.capacity {
		r.log.Info("Runtime capacity changed", "capacity", capacity.String())
		r.capacity = capacity
		r.requestTick()
	}
}

// enrich adds the bookkeeping fields every result carries.
func (r *Runner) enrich(t *trial.Trial, result trial.Result) trial.Result {
	result = result.Clone()
	now := r.config.Now()

	if _, ok := result.Float(trial.KeyTrainingIteration); !ok {
		result[trial.KeyTrainingIteration] = t.LastResult.Iteration() + 1
	}
	result[trial.KeyTrialID] = t.ID
	result[trial.KeyExperiment] = t.Experiment
	result[trial.KeyTimestamp] = now.Unix()
	result[trial.KeyTimeTotal] = now.Sub(t.Started).Seconds()
	return result
}

func (r *Runner) uploadTrial(t *trial.Trial) {
	dir, uri := t.Dir, t.UploadDir
	key := path.Join(t.Experiment, filepath.Base(t.Dir))
	log := r.log.With("trial", t.FQN(), "destination", uri)

	r.uploads.Add(1)
	go func() {
		defer r.uploads.Done()
		ctx := context.Background()

		uploader, err := r.config.NewUploader(ctx, uri)
		if err == nil {
			err = uploader.Upload(ctx, dir, key)
		}
		if err != nil {
			log.Error("Failed to upload trial results", "error", err)
			return
		}
		log.Debug("Trial results uploaded")
	}()
}
