package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineCollector exposes Prometheus metrics for the belt simulation engine.
// All methods are safe on a nil receiver so the engine can run without it.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	BeltsPlaced     prometheus.Gauge
	BeltRotations   prometheus.Counter
	BeltsReplaced   prometheus.Counter
	ItemsSpawned    prometheus.Counter
	Ticks           prometheus.Counter
	Handoffs        prometheus.Counter
	HandoffRetries  prometheus.Counter
	ItemsInFlight   prometheus.Gauge
	HandoffDuration prometheus.Histogram
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &EngineCollector{gatherer: gatherer}
	var err error

	if c.BeltsPlaced, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beltsim_belts_placed",
		Help: "Number of belts currently addressable in the registry.",
	}), "beltsim_belts_placed"); err != nil {
		return nil, err
	}
	if c.BeltRotations, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beltsim_belt_rotations_total",
		Help: "Total number of belt rotations.",
	}), "beltsim_belt_rotations_total"); err != nil {
		return nil, err
	}
	if c.BeltsReplaced, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beltsim_belts_replaced_total",
		Help: "Total number of belts displaced by a placement on an occupied cell.",
	}), "beltsim_belts_replaced_total"); err != nil {
		return nil, err
	}
	if c.ItemsSpawned, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beltsim_items_spawned_total",
		Help: "Total number of items spawned onto belts.",
	}), "beltsim_items_spawned_total"); err != nil {
		return nil, err
	}
	if c.Ticks, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beltsim_belt_ticks_total",
		Help: "Total number of belt simulation ticks across all belts.",
	}), "beltsim_belt_ticks_total"); err != nil {
		return nil, err
	}
	if c.Handoffs, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beltsim_handoffs_total",
		Help: "Total number of items delivered to a neighbouring belt.",
	}), "beltsim_handoffs_total"); err != nil {
		return nil, err
	}
	if c.HandoffRetries, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beltsim_handoff_retries_total",
		Help: "Total number of delivery attempts that found no belt at the destination.",
	}), "beltsim_handoff_retries_total"); err != nil {
		return nil, err
	}
	if c.ItemsInFlight, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beltsim_items_in_flight",
		Help: "Items that left their belt and wait for a destination belt.",
	}), "beltsim_items_in_flight"); err != nil {
		return nil, err
	}
	if c.HandoffDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beltsim_handoff_duration_seconds",
		Help:    "Time from an item becoming ready to its acceptance by the next belt.",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}), "beltsim_handoff_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetBelts updates the placed belt gauge.
func (c *EngineCollector) SetBelts(n int) {
	if c == nil || c.BeltsPlaced == nil {
		return
	}
	c.BeltsPlaced.Set(float64(n))
}

// IncRotations counts a belt rotation.
func (c *EngineCollector) IncRotations() {
	if c == nil || c.BeltRotations == nil {
		return
	}
	c.BeltRotations.Inc()
}

// IncReplaced counts a belt displaced from its cell.
func (c *EngineCollector) IncReplaced() {
	if c == nil || c.BeltsReplaced == nil {
		return
	}
	c.BeltsReplaced.Inc()
}

// IncSpawned counts a spawned item.
func (c *EngineCollector) IncSpawned() {
	if c == nil || c.ItemsSpawned == nil {
		return
	}
	c.ItemsSpawned.Inc()
}

// IncTicks counts one belt tick.
func (c *EngineCollector) IncTicks() {
	if c == nil || c.Ticks == nil {
		return
	}
	c.Ticks.Inc()
}

// IncHandoffRetries counts a delivery attempt that found an empty cell.
func (c *EngineCollector) IncHandoffRetries() {
	if c == nil || c.HandoffRetries == nil {
		return
	}
	c.HandoffRetries.Inc()
}

// ObserveHandoff records a completed delivery.
func (c *EngineCollector) ObserveHandoff(d time.Duration) {
	if c == nil {
		return
	}
	if c.Handoffs != nil {
		c.Handoffs.Inc()
	}
	if c.HandoffDuration != nil {
		c.HandoffDuration.Observe(d.Seconds())
	}
}

// SetInFlight updates the in-flight item gauge.
func (c *EngineCollector) SetInFlight(n int) {
	if c == nil || c.ItemsInFlight == nil {
		return
	}
	c.ItemsInFlight.Set(float64(n))
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
