package admission

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/failsafe-go/admission/budget"
	"github.com/failsafe-go/admission/internal/util"
	"github.com/failsafe-go/admission/priority"
	"github.com/failsafe-go/admission/window"
)

const (
	// Time cycle rescaling factors
	widenFactor  = 1.25
	narrowFactor = .8
)

// Engine decides whether to admit or shed requests based on their priority. Each kind of congestion feedback drives an
// admit fraction, which is converted into a watermark ordinal using the distribution of recently sampled priorities.
// A request is admitted when its ordinal is at or below the watermark for every kind. Congestion tightens a watermark
// multiplicatively, and recovery relaxes it additively.
//
// Every admission decision is sampled into a rolling window. Each time the window rolls over, the priority
// distribution is refreshed and the watermarks are republished.
//
// This type is concurrency safe.
type Engine struct {
	config      Config
	logger      *slog.Logger
	observer    Observer
	clock       util.Clock
	cycle       *window.TimeCycle
	window      *window.RollingWindow[*window.Counters]
	tracker     priority.LevelTracker
	retryBudget *budget.RetryBudget
	shedLogs    *rate.Limiter
	regulators  [kindCount]*regulator
	closeOnce   sync.Once

	// Guards recalibration from feedback and rollovers
	mu         sync.Mutex
	watermarks [kindCount]atomic.Int32
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer Observer
	clock    util.Clock
}

// WithLogger configures a logger which provides debug logging of watermark changes and shed requests.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver configures an Observer to be notified of admission decisions. Defaults to a NoopObserver.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithClock configures the clock used for windows and feedback timing. Defaults to the wall clock.
func WithClock(clock util.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New returns a new Engine for the config. Invalid config values are replaced by their defaults.
func New(config Config, opts ...Option) (*Engine, error) {
	o := &options{
		observer: NoopObserver{},
		clock:    util.WallClock,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.observer == nil {
		o.observer = NoopObserver{}
	}

	config = config.WithDefaults()
	e := &Engine{
		config:      config,
		logger:      o.logger,
		observer:    o.observer,
		clock:       o.clock,
		tracker:     priority.NewLevelTracker(),
		retryBudget: budget.NewRetryBudgetWithClock(config.RetryBudget, config.RetryBudgetTTL, o.clock),
		shedLogs:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, kind := range Kinds() {
		e.regulators[kind] = newRegulator(kind, config)
		e.watermarks[kind].Store(priority.MaxOrdinal)
	}

	var err error
	if e.cycle, err = window.NewTimeCycle(config.WindowTimeCycle); err != nil {
		return nil, err
	}
	policy, err := window.NewTimeOrCountPolicy(e.cycle, config.WindowRequestCycle)
	if err != nil {
		return nil, err
	}
	if e.window, err = window.New(policy, e.onRollover, window.WithClock(o.clock)); err != nil {
		return nil, err
	}
	return e, nil
}

// Admit returns whether a request with the priority value should be admitted, and samples the decision. Invalid values
// are treated as the lowest priority.
func (e *Engine) Admit(value priority.Value) bool {
	if !value.Valid() {
		value = priority.Value(priority.MaxOrdinal)
	}

	ordinal := int32(value.Ordinal())
	shedBy := kindCount
	if ordinal > e.watermarks[CPU].Load() {
		shedBy = CPU
	} else if ordinal > e.watermarks[QueueDelay].Load() {
		shedBy = QueueDelay
	} else if ordinal > e.watermarks[ErrorRate].Load() {
		shedBy = ErrorRate
	}
	admitted := shedBy == kindCount
	e.window.Sample(value, admitted)

	switch shedBy {
	case kindCount:
		e.observer.Enter(value)
		return true
	case CPU:
		e.observer.ShedByCPU(value)
	default:
		e.observer.ShedByQueue(value)
	}
	e.logShed(value, shedBy)
	return false
}

// AdmitContext is like Admit but uses the priority from the ctx, else the lowest priority.
func (e *Engine) AdmitContext(ctx context.Context) bool {
	value, ok := priority.FromContext(ctx)
	if !ok {
		value = priority.Value(priority.MaxOrdinal)
	}
	return e.Admit(value)
}

// Feedback reports a congestion measurement of the kind, which adjusts the watermark for that kind. Queue delays are
// in milliseconds, while CPU utilization and error rates are from 0 to 1. Unknown kinds and non-finite values are
// ignored.
func (e *Engine) Feedback(kind Kind, value float64) {
	if !kind.Valid() || math.IsNaN(value) || math.IsInf(value, 0) {
		if e.logger != nil {
			e.logger.Warn("ignoring invalid feedback", "kind", kind, "value", value)
		}
		return
	}

	r := e.regulators[kind]
	r.update(max(0, value), util.Now(e.clock))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish(kind, r.fraction())
}

// FeedbackQueueDelay reports a queue delay measurement.
func (e *Engine) FeedbackQueueDelay(delay time.Duration) {
	e.Feedback(QueueDelay, float64(delay)/float64(time.Millisecond))
}

// onRollover refreshes the priority distribution from the snapshot, republishes watermarks against it, and rescales
// the window's time cycle. Windows that fill their request cycle widen the time cycle, and windows that see little
// traffic narrow it.
func (e *Engine) onRollover(_ time.Time, snapshot *window.Snapshot[*window.Counters], _ *window.RollingWindow[*window.Counters]) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snapshot.RequestedCount > 0 {
		e.tracker.Reset()
		snapshot.ForEach(e.tracker.RecordOrdinal)
	}
	for _, kind := range Kinds() {
		e.publish(kind, e.regulators[kind].fraction())
	}

	requestCycle := e.config.WindowRequestCycle
	var newCycle time.Duration
	if snapshot.RequestedCount >= requestCycle {
		newCycle = e.cycle.Rescale(widenFactor)
	} else if snapshot.RequestedCount < requestCycle/4 {
		newCycle = e.cycle.Rescale(narrowFactor)
	}

	if e.logger != nil && e.logger.Enabled(nil, slog.LevelDebug) {
		e.logger.Debug("window rollover",
			"requested", snapshot.RequestedCount,
			"admitted", snapshot.AdmittedCount,
			"duration", snapshot.Duration(),
			"timeCycle", newCycle)
	}
}

// publish converts the admit fraction into a watermark for the kind and stores it. Requires mu.
func (e *Engine) publish(kind Kind, admitFraction float64) {
	newWatermark := int32(e.watermarkFor(admitFraction))
	oldWatermark := e.watermarks[kind].Swap(newWatermark)

	if oldWatermark != newWatermark && e.logger != nil && e.logger.Enabled(nil, slog.LevelDebug) {
		e.logger.Debug("watermark update",
			"kind", kind,
			"admitFraction", util.Round(admitFraction),
			"oldWatermark", oldWatermark,
			"newWatermark", newWatermark)
	}
}

// watermarkFor returns the ordinal at or below which roughly the admitFraction of recent traffic falls. Before any
// traffic has been observed, ordinals are assumed to be uniformly distributed.
func (e *Engine) watermarkFor(admitFraction float64) int {
	if admitFraction >= 1 {
		return priority.MaxOrdinal
	}
	if ordinal, ok := e.tracker.Ordinal(admitFraction); ok {
		return ordinal
	}
	return int(admitFraction * priority.MaxOrdinal)
}

func (e *Engine) logShed(value priority.Value, kind Kind) {
	if e.logger != nil && e.logger.Enabled(nil, slog.LevelDebug) && e.shedLogs.Allow() {
		e.logger.Debug("shed request",
			"priority", value,
			"cause", kind,
			"watermark", e.watermarks[kind].Load())
	}
}

// Watermark returns the current watermark ordinal for the kind, or -1 if the kind is unknown.
func (e *Engine) Watermark(kind Kind) int {
	if !kind.Valid() {
		return -1
	}
	return int(e.watermarks[kind].Load())
}

// AdmitFraction returns the current admit fraction for the kind, or 0 if the kind is unknown.
func (e *Engine) AdmitFraction(kind Kind) float64 {
	if !kind.Valid() {
		return 0
	}
	return e.regulators[kind].fraction()
}

// RetryBudget returns the engine's retry budget, which callers can use to limit retries of shed requests.
func (e *Engine) RetryBudget() *budget.RetryBudget {
	return e.retryBudget
}

// Config returns the engine's effective config.
func (e *Engine) Config() Config {
	return e.config
}

// Status is a point in time view of an Engine.
type Status struct {
	Watermark       int           `json:"watermark"`
	Kinds           []KindStatus  `json:"kinds"`
	WindowRequested int64         `json:"windowRequested"`
	WindowAdmitted  int64         `json:"windowAdmitted"`
	WindowTimeCycle time.Duration `json:"windowTimeCycle"`
	Rollovers       int64         `json:"rollovers"`
}

// KindStatus is a point in time view of the regulation of one kind of feedback.
type KindStatus struct {
	Kind          string  `json:"kind"`
	Target        float64 `json:"target"`
	Smoothed      float64 `json:"smoothed"`
	Output        float64 `json:"output"`
	AdmitFraction float64 `json:"admitFraction"`
	Watermark     int     `json:"watermark"`
	Updates       uint64  `json:"updates"`
}

// Status returns a point in time view of the engine. The Watermark is the lowest watermark across all kinds.
func (e *Engine) Status() Status {
	current := e.window.Current()
	status := Status{
		Watermark:       priority.MaxOrdinal,
		WindowRequested: current.RequestedCount(),
		WindowAdmitted:  current.AdmittedCount(),
		WindowTimeCycle: e.cycle.Get(),
		Rollovers:       e.window.Rollovers(),
	}
	for _, kind := range Kinds() {
		kindStatus := e.regulators[kind].status()
		kindStatus.Watermark = e.Watermark(kind)
		status.Watermark = min(status.Watermark, kindStatus.Watermark)
		status.Kinds = append(status.Kinds, kindStatus)
	}
	return status
}

// Reset discards all feedback, the sampled window, and the priority distribution, admitting all traffic again.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window.Reset()
	e.tracker.Reset()
	for _, kind := range Kinds() {
		e.regulators[kind].reset()
		e.watermarks[kind].Store(priority.MaxOrdinal)
	}
}

// Close closes the engine's Observer. The engine can still be used after it's closed.
func (e *Engine) Close() {
	e.closeOnce.Do(e.observer.Close)
}
