// Package config loads the simulator's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/signalsfoundry/conveyor-simulator/timectrl"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of the YAML document.
type Config struct {
	Grid       GridConfig       `yaml:"grid"`
	Simulation SimulationConfig `yaml:"simulation"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Layout     []BeltSpec       `yaml:"layout,omitempty"`
	Items      []ItemSpec       `yaml:"items,omitempty"`
}

// GridConfig bounds the coordinates the command adapters accept.
type GridConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type SimulationConfig struct {
	TickRate         float64       `yaml:"tick_rate"`
	TicksPerCell     int           `yaml:"ticks_per_cell"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	DefaultDirection string        `yaml:"default_direction"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File redirects logs away from stdout. The terminal UI needs this.
	File string `yaml:"file,omitempty"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// BeltSpec is a belt placed when the simulator starts.
type BeltSpec struct {
	X         int    `yaml:"x"`
	Y         int    `yaml:"y"`
	Direction string `yaml:"direction"`
}

// ItemSpec is an item put on the belt at (X, Y) after the layout is placed.
// A zero ID asks the registry for a fresh one.
type ItemSpec struct {
	X  int `yaml:"x"`
	Y  int `yaml:"y"`
	ID int `yaml:"id,omitempty"`
}

// Default returns the reference configuration: an 11x11 grid, 60 ticks per
// second, one cell per second and a 500ms retry backoff.
func Default() Config {
	return Config{
		Grid: GridConfig{Width: 11, Height: 11},
		Simulation: SimulationConfig{
			TickRate:         core.DefaultTickRate,
			TicksPerCell:     core.DefaultTicksPerCell,
			RetryBackoff:     core.DefaultRetryBackoff,
			DefaultDirection: model.Up.String(),
		},
		Server: ServerConfig{
			GRPCAddr: ":50051",
			HTTPAddr: ":8080",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "beltsim",
			SampleRatio: 1.0,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(b); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays LOG_LEVEL and LOG_FORMAT. Tracing variables are applied
// by TracingConfig.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Grid.Width <= 0 || c.Grid.Height <= 0 {
		fail("grid must be at least 1x1, got %dx%d", c.Grid.Width, c.Grid.Height)
	}
	if c.Simulation.TickRate <= 0 {
		fail("simulation.tick_rate must be positive, got %v", c.Simulation.TickRate)
	}
	if c.Simulation.TicksPerCell <= 0 {
		fail("simulation.ticks_per_cell must be positive, got %d", c.Simulation.TicksPerCell)
	}
	if c.Simulation.RetryBackoff <= 0 {
		fail("simulation.retry_backoff must be positive, got %s", c.Simulation.RetryBackoff)
	}
	if _, err := model.ParseDirection(c.Simulation.DefaultDirection); err != nil {
		fail("simulation.default_direction: %v", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		fail("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "stdout", "otlp":
	default:
		fail("tracing.exporter must be stdout or otlp, got %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		fail("tracing.sample_ratio must be within [0,1], got %v", c.Tracing.SampleRatio)
	}

	bounds := c.Bounds()
	for i, b := range c.Layout {
		at := model.Coord{X: b.X, Y: b.Y}
		if !bounds.Contains(at) {
			fail("layout[%d] %v is outside the %dx%d grid", i, at, bounds.Width, bounds.Height)
		}
		if _, err := model.ParseDirection(b.Direction); err != nil {
			fail("layout[%d]: %v", i, err)
		}
	}
	for i, it := range c.Items {
		at := model.Coord{X: it.X, Y: it.Y}
		if !bounds.Contains(at) {
			fail("items[%d] %v is outside the %dx%d grid", i, at, bounds.Width, bounds.Height)
		}
		if it.ID < 0 {
			fail("items[%d] id must not be negative, got %d", i, it.ID)
		}
	}
	return errors.Join(errs...)
}

// Bounds returns the grid extent.
func (c Config) Bounds() model.Bounds {
	return model.Bounds{Width: c.Grid.Width, Height: c.Grid.Height}
}

// EngineParams converts the simulation section. Call Validate first.
func (c Config) EngineParams() core.Params {
	d, err := model.ParseDirection(c.Simulation.DefaultDirection)
	if err != nil {
		d = model.Up
	}
	return core.Params{
		TickInterval:     timectrl.TickInterval(c.Simulation.TickRate),
		TicksPerCell:     c.Simulation.TicksPerCell,
		RetryBackoff:     c.Simulation.RetryBackoff,
		DefaultDirection: d,
	}
}

// LoggerConfig converts the logging section for logging.New.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

// TracingConfig converts the tracing section and overlays BELTSIM_TRACING_*
// environment variables.
func (c Config) TracingConfig() observability.TracingConfig {
	tc := observability.DefaultTracingConfig()
	tc.Enabled = c.Tracing.Enabled
	if c.Tracing.Exporter != "" {
		tc.Exporter = strings.ToLower(c.Tracing.Exporter)
	}
	if c.Tracing.ServiceName != "" {
		tc.ServiceName = c.Tracing.ServiceName
	}
	tc.Endpoint = c.Tracing.OTLPEndpoint
	tc.SampleRatio = c.Tracing.SampleRatio
	return tc.ApplyEnv()
}

// ApplyLayout places the configured belts, starts them and then puts the
// configured items on them. It returns the number of items accepted; items
// aimed at empty cells are skipped.
func (c Config) ApplyLayout(r *core.Registry) (int, error) {
	for i, spec := range c.Layout {
		d, err := model.ParseDirection(spec.Direction)
		if err != nil {
			return 0, fmt.Errorf("layout[%d]: %w", i, err)
		}
		r.PlaceBelt(model.Coord{X: spec.X, Y: spec.Y}, d)
	}

	accepted := 0
	for _, it := range c.Items {
		at := model.Coord{X: it.X, Y: it.Y}
		var ok bool
		if it.ID > 0 {
			ok = r.AcceptItem(at, model.Item{ID: it.ID})
		} else {
			_, ok = r.SpawnItem(at)
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

// SquareLoop returns the defaults with the 2x2 loop layout: one item on
// A(0,0) circling A → B(1,0) → C(1,1) → D(0,1) → A.
func SquareLoop() Config {
	cfg := Default()
	cfg.Layout = []BeltSpec{
		{X: 0, Y: 0, Direction: "RIGHT"},
		{X: 1, Y: 0, Direction: "DOWN"},
		{X: 1, Y: 1, Direction: "LEFT"},
		{X: 0, Y: 1, Direction: "UP"},
	}
	cfg.Items = []ItemSpec{{X: 0, Y: 0, ID: 1}}
	return cfg
}
