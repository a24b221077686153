package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/signalsfoundry/conveyor-simulator/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Defaults matching the reference conveyor behaviour.
const (
	DefaultTickRate     = 60.0
	DefaultTicksPerCell = 60
	DefaultRetryBackoff = 500 * time.Millisecond
)

// ErrInvalidParams is returned when engine parameters fail validation.
var ErrInvalidParams = errors.New("invalid engine parameters")

// Params holds the fixed simulation constants shared by every belt.
type Params struct {
	// TickInterval is the wall-clock period of each belt's tick loop.
	TickInterval time.Duration
	// TicksPerCell is how many ticks an item needs to cross one cell. Each
	// tick advances progress by exactly 1/TicksPerCell.
	TicksPerCell int
	// RetryBackoff is the wait between delivery attempts into an empty cell.
	RetryBackoff time.Duration
	// DefaultDirection is the facing of belts created by PlaceOrRotate.
	DefaultDirection model.Direction
}

// DefaultParams returns the reference parameters: 60 ticks per second,
// one cell per second, 500ms retry backoff, new belts facing UP.
func DefaultParams() Params {
	return Params{
		TickInterval:     timectrl.TickInterval(DefaultTickRate),
		TicksPerCell:     DefaultTicksPerCell,
		RetryBackoff:     DefaultRetryBackoff,
		DefaultDirection: model.Up,
	}
}

// Validate reports whether p can drive the engine.
func (p Params) Validate() error {
	var errs []error
	if p.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: tick interval must be positive, got %s", ErrInvalidParams, p.TickInterval))
	}
	if p.TicksPerCell <= 0 {
		errs = append(errs, fmt.Errorf("%w: ticks per cell must be positive, got %d", ErrInvalidParams, p.TicksPerCell))
	}
	if p.RetryBackoff <= 0 {
		errs = append(errs, fmt.Errorf("%w: retry backoff must be positive, got %s", ErrInvalidParams, p.RetryBackoff))
	}
	return errors.Join(errs...)
}

// MetricsRecorder receives engine counters. observability.EngineCollector
// satisfies it.
type MetricsRecorder interface {
	SetBelts(n int)
	IncRotations()
	IncReplaced()
	IncSpawned()
	IncTicks()
	IncHandoffRetries()
	ObserveHandoff(d time.Duration)
	SetInFlight(n int)
}

type noopMetrics struct{}

func (noopMetrics) SetBelts(int)                 {}
func (noopMetrics) IncRotations()                {}
func (noopMetrics) IncReplaced()                 {}
func (noopMetrics) IncSpawned()                  {}
func (noopMetrics) IncTicks()                    {}
func (noopMetrics) IncHandoffRetries()           {}
func (noopMetrics) ObserveHandoff(time.Duration) {}
func (noopMetrics) SetInFlight(int)              {}

// Option customises Registry construction.
type Option func(*Registry)

// WithParams overrides the default simulation constants.
func WithParams(p Params) Option {
	return func(r *Registry) {
		r.params = p
	}
}

// WithClock replaces the wall clock, typically with a timectrl.ManualClock in tests.
func WithClock(c timectrl.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracerProvider sets the provider used for handoff spans. The global
// otel provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

const tracerName = "github.com/signalsfoundry/conveyor-simulator/core"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
