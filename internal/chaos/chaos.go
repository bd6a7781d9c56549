// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrSteadyStateInvalid aborts an experiment whose preconditions do not hold.
var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Gauge
	Method      []Action
	Rollback    []Action
	// Duration is how long the system is observed after Method ran.
	Duration time.Duration
	// Interval is the gauge sampling period; it defaults to one second.
	Interval time.Duration
}

// Gauge measures one system property.
type Gauge struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action injects or removes a fault.
type Action struct {
	Type    string // latency, failure, concurrent-requests
	Target  string
	Execute func(context.Context) error
}

// Result captures one experiment run.
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	// MTTR is the time from the first violation to the first sample that
	// satisfied every gauge again.
	MTTR *time.Duration `json:"mttr,omitempty"`
}

type Violation struct {
	Gauge     string    `json:"gauge"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine orchestrates chaos experiments.
type Engine struct {
	tracer      trace.Tracer
	logger      *zap.Logger
	experiments []Experiment
	results     []Result
	mu          sync.Mutex
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tracer: otel.Tracer("bookrental/chaos"),
		logger: logger.Named("chaos"),
	}
}

// Register adds an experiment to the suite.
func (e *Engine) Register(exp ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp...)
}

// Experiments returns the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns every completed run.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment: steady state, method, observation, rollback.
// The hypothesis holds when the final sample of every gauge satisfies its
// threshold after rollback.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	res := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.check(ctx, exp.SteadyState, res); len(violations) > 0 {
		res.Violations = violations
		return res, ErrSteadyStateInvalid
	}
	res.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	e.execute(ctx, exp.Method, res)

	span.AddEvent("observing_system")
	e.observe(ctx, exp, res)

	span.AddEvent("rolling_back")
	e.execute(ctx, exp.Rollback, res)

	span.AddEvent("validating_hypothesis")
	final := e.check(ctx, exp.SteadyState, res)
	res.HypothesisHeld = len(final) == 0
	res.Violations = append(res.Violations, final...)
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *res)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", res.HypothesisHeld),
		attribute.Int("violations", len(res.Violations)),
	)
	e.logger.Info("experiment finished",
		zap.String("experiment", exp.Name),
		zap.Bool("hypothesis_held", res.HypothesisHeld),
		zap.Int("violations", len(res.Violations)),
		zap.Int("error_events", len(res.ErrorEvents)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Engine) execute(ctx context.Context, actions []Action, res *Result) {
	for _, a := range actions {
		if err := a.Execute(ctx); err != nil {
			res.ErrorEvents = append(res.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: a.Target})
			trace.SpanFromContext(ctx).RecordError(err)
		}
	}
}

// check samples every gauge once and returns the violated ones.
func (e *Engine) check(ctx context.Context, gauges []Gauge, res *Result) []Violation {
	var violations []Violation
	for _, p := range gauges {
		value, err := p.Query(ctx)
		now := time.Now()
		if err != nil {
			res.ErrorEvents = append(res.ErrorEvents, ErrorEvent{Timestamp: now, Error: err.Error(), Component: p.Name})
			violations = append(violations, Violation{Gauge: p.Name, Expected: p.Threshold.Value, Actual: -1, Timestamp: now})
			continue
		}
		res.Observations[p.Name] = append(res.Observations[p.Name], DataPoint{Timestamp: now, Value: value})
		if !p.Threshold.Holds(value) {
			violations = append(violations, Violation{Gauge: p.Name, Expected: p.Threshold.Value, Actual: value, Timestamp: now})
		}
	}
	return violations
}

func (e *Engine) observe(ctx context.Context, exp Experiment, res *Result) {
	interval := exp.Interval
	if interval <= 0 {
		interval = time.Second
	}
	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var violatedAt time.Time
	for {
		select {
		case <-observeCtx.Done():
			return
		case <-ticker.C:
			violations := e.check(ctx, exp.SteadyState, res)
			res.Violations = append(res.Violations, violations...)
			switch {
			case len(violations) > 0 && violatedAt.IsZero():
				violatedAt = time.Now()
			case len(violations) == 0 && !violatedAt.IsZero() && res.MTTR == nil:
				mttr := time.Since(violatedAt)
				res.MTTR = &mttr
			}
		}
	}
}

// GameDay is a named series of experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
	// Pause separates consecutive experiments.
	Pause time.Duration
}

// ExecuteGameDay runs every scenario in order and reports how many held.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) (held int, err error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)))
	defer span.End()

	e.logger.Info("starting game day", zap.String("name", day.Name), zap.Int("scenarios", len(day.Scenarios)))
	for i, exp := range day.Scenarios {
		e.logger.Info("experiment",
			zap.Int("index", i+1),
			zap.String("name", exp.Name),
			zap.String("hypothesis", exp.Hypothesis))
		res, err := e.Run(ctx, exp)
		if err != nil {
			e.logger.Warn("experiment aborted", zap.String("name", exp.Name), zap.Error(err))
			continue
		}
		if res.HypothesisHeld {
			held++
		}
		if i < len(day.Scenarios)-1 && day.Pause > 0 {
			select {
			case <-ctx.Done():
				return held, ctx.Err()
			case <-time.After(day.Pause):
			}
		}
	}
	return held, nil
}
