// Package saga runs ordered (action, compensation) pairs. Each action is a local
// transaction against one ledger; when a later action fails, the completed actions
// are compensated in strict reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ErrStepTimeout marks a step that exceeded its time budget.
var ErrStepTimeout = errors.New("saga: step timed out")

// Step pairs a forward action with the operation that reverses it.
// Compensate may be nil for read-only steps.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Observer receives saga outcomes, typically a metrics sink.
type Observer interface {
	ObserveSaga(saga, outcome string)
	ObserveCompensation(saga, step, outcome string)
}

// Report describes a failed compensation for manual reconciliation.
type Report struct {
	RunID    string
	Saga     string
	Step     string
	Cause    string
	Failures []string
	At       time.Time
}

// Reporter is notified when compensation fails.
type Reporter interface {
	ReportInconsistency(ctx context.Context, report Report) error
}

// Config tunes the runner.
type Config struct {
	StepTimeout time.Duration
}

// Runner executes sagas.
type Runner struct {
	logger      *slog.Logger
	stepTimeout time.Duration
	observer    Observer
	reporter    Reporter
}

// NewRunner constructs a Runner. observer and reporter may be nil.
func NewRunner(logger *slog.Logger, cfg Config, observer Observer, reporter Reporter) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, stepTimeout: cfg.StepTimeout, observer: observer, reporter: reporter}
}

// Outcome labels.
const (
	OutcomeCommitted    = "committed"
	OutcomeCompensated  = "compensated"
	OutcomeInconsistent = "inconsistent"
	OutcomeFailed       = "failed"
)

// Execution tracks the progress of one saga run.
type Execution struct {
	runner *Runner
	id     string
	name   string
	steps  []Step

	mu          sync.Mutex
	completed   int
	compensated []bool
	failedStep  string
	cause       error
}

// Start prepares an execution without running it.
func (r *Runner) Start(name string, steps []Step) *Execution {
	return &Execution{
		runner:      r,
		id:          uuid.NewString(),
		name:        name,
		steps:       steps,
		compensated: make([]bool, len(steps)),
	}
}

// Run executes the steps in order and compensates on the first failure.
func (r *Runner) Run(ctx context.Context, name string, steps ...Step) error {
	return r.Start(name, steps).Run(ctx)
}

// ID returns the run identifier used in logs and reports.
func (e *Execution) ID() string { return e.id }

// Run executes each step. On failure it compensates completed steps and returns the
// step error, or a *shared.ConsistencyError when a compensation failed as well.
func (e *Execution) Run(ctx context.Context) error {
	for i, step := range e.steps {
		if err := e.runStep(ctx, step); err != nil {
			e.mu.Lock()
			e.failedStep = step.Name
			e.cause = err
			e.mu.Unlock()
			e.runner.logger.Warn("saga step failed",
				slog.String("saga", e.name),
				slog.String("run_id", e.id),
				slog.String("step", step.Name),
				slog.Int("index", i),
				slog.Any("error", err))
			if compErr := e.Compensate(ctx); compErr != nil {
				return compErr
			}
			e.observeSaga(OutcomeCompensated)
			return err
		}
		e.mu.Lock()
		e.completed = i + 1
		e.mu.Unlock()
	}
	e.observeSaga(OutcomeCommitted)
	return nil
}

func (e *Execution) runStep(ctx context.Context, step Step) error {
	if step.Action == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("saga %s: %s: %w", e.name, step.Name, err)
	}
	stepCtx := ctx
	if e.runner.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.runner.stepTimeout)
		defer cancel()
	}
	err := step.Action(stepCtx)
	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s: %w", ErrStepTimeout, step.Name, err)
	}
	return err
}

// Compensate reverses every completed step that has not been compensated yet, newest
// first. It runs detached from caller cancellation and is safe to call repeatedly.
func (e *Execution) Compensate(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	e.mu.Lock()
	completed := e.completed
	e.mu.Unlock()

	var failures []shared.CompensationFailure
	for i := completed - 1; i >= 0; i-- {
		step := e.steps[i]
		e.mu.Lock()
		done := e.compensated[i]
		e.mu.Unlock()
		if done || step.Compensate == nil {
			continue
		}
		if err := e.compensateStep(ctx, step); err != nil {
			failures = append(failures, shared.CompensationFailure{Step: step.Name, Err: err})
			e.observeCompensation(step.Name, OutcomeFailed)
			e.runner.logger.Error("saga compensation failed",
				slog.String("saga", e.name),
				slog.String("run_id", e.id),
				slog.String("step", step.Name),
				slog.Any("error", err))
			continue
		}
		e.mu.Lock()
		e.compensated[i] = true
		e.mu.Unlock()
		e.observeCompensation(step.Name, OutcomeCompensated)
	}
	if len(failures) == 0 {
		return nil
	}

	e.mu.Lock()
	consistency := &shared.ConsistencyError{Saga: e.name, Step: e.failedStep, Cause: e.cause, Failures: failures}
	e.mu.Unlock()
	if consistency.Cause == nil {
		consistency.Cause = errors.New("compensation requested")
	}
	e.observeSaga(OutcomeInconsistent)
	e.runner.logger.Error("saga left ledgers inconsistent",
		slog.String("saga", e.name),
		slog.String("run_id", e.id),
		slog.Any("error", consistency))
	e.report(ctx, consistency)
	return consistency
}

func (e *Execution) compensateStep(ctx context.Context, step Step) error {
	if e.runner.stepTimeout <= 0 {
		return step.Compensate(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, e.runner.stepTimeout)
	defer cancel()
	return step.Compensate(stepCtx)
}

func (e *Execution) report(ctx context.Context, err *shared.ConsistencyError) {
	if e.runner.reporter == nil {
		return
	}
	failures := make([]string, 0, len(err.Failures))
	for _, f := range err.Failures {
		failures = append(failures, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	report := Report{
		RunID:    e.id,
		Saga:     e.name,
		Step:     err.Step,
		Cause:    err.Cause.Error(),
		Failures: failures,
		At:       time.Now().UTC(),
	}
	if rerr := e.runner.reporter.ReportInconsistency(ctx, report); rerr != nil {
		e.runner.logger.Error("report inconsistency", slog.String("run_id", e.id), slog.Any("error", rerr))
	}
}

func (e *Execution) observeSaga(outcome string) {
	if e.runner.observer != nil {
		e.runner.observer.ObserveSaga(e.name, outcome)
	}
}

func (e *Execution) observeCompensation(step, outcome string) {
	if e.runner.observer != nil {
		e.runner.observer.ObserveCompensation(e.name, step, outcome)
	}
}
