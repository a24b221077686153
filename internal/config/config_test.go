package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
	if got := cfg.EngineParams(); got != core.DefaultParams() {
		t.Fatalf("EngineParams() = %+v, want %+v", got, core.DefaultParams())
	}
	if b := cfg.Bounds(); b.Width != 11 || b.Height != 11 {
		t.Fatalf("Bounds() = %+v, want 11x11", b)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beltsim.yaml")
	doc := `
grid:
  width: 4
  height: 3
simulation:
  ticks_per_cell: 30
  retry_backoff: 250ms
  default_direction: left
layout:
  - {x: 0, y: 0, direction: right}
  - {x: 1, y: 0, direction: down}
items:
  - {x: 0, y: 0}
  - {x: 0, y: 0, id: 42}
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Grid.Width != 4 || cfg.Grid.Height != 3 {
		t.Fatalf("grid = %+v, want 4x3", cfg.Grid)
	}
	p := cfg.EngineParams()
	if p.TicksPerCell != 30 {
		t.Fatalf("TicksPerCell = %d, want 30", p.TicksPerCell)
	}
	if p.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("RetryBackoff = %s, want 250ms", p.RetryBackoff)
	}
	if p.DefaultDirection != model.Left {
		t.Fatalf("DefaultDirection = %v, want LEFT", p.DefaultDirection)
	}
	if p.TickInterval != core.DefaultParams().TickInterval {
		t.Fatalf("TickInterval = %s, want default", p.TickInterval)
	}
	if cfg.Server.GRPCAddr != ":50051" {
		t.Fatalf("GRPCAddr = %q, want default", cfg.Server.GRPCAddr)
	}
	if len(cfg.Layout) != 2 || len(cfg.Items) != 2 || cfg.Items[1].ID != 42 {
		t.Fatalf("layout/items = %+v / %+v", cfg.Layout, cfg.Items)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Simulation.TicksPerCell != core.DefaultTicksPerCell {
		t.Fatalf("TicksPerCell = %d, want %d", cfg.Simulation.TicksPerCell, core.DefaultTicksPerCell)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load(missing) error = %v, want ErrNotExist", err)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("grid: [")); err == nil {
		t.Fatal("Parse() error = nil, want error")
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Grid.Width = 0
	cfg.Simulation.TicksPerCell = 0
	cfg.Simulation.DefaultDirection = "sideways"
	cfg.Tracing.Exporter = "zipkin"
	cfg.Layout = []BeltSpec{{X: 20, Y: 0, Direction: "up"}}

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("Validate() = %T, want joined error", err)
	}
	if got := len(joined.Unwrap()); got != 5 {
		t.Fatalf("problems = %d, want 5: %v", got, err)
	}
}

func TestApplyEnvOverridesLogging(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v, want debug/json", cfg.Logging)
	}
	lc := cfg.LoggerConfig()
	if lc.Level != "debug" || lc.Format != "json" {
		t.Fatalf("LoggerConfig() = %+v", lc)
	}
}

func TestTracingConfigHonoursEnv(t *testing.T) {
	t.Setenv("BELTSIM_TRACING_ENABLED", "true")
	t.Setenv("BELTSIM_TRACING_EXPORTER", "")

	cfg := Default()
	cfg.Tracing.ServiceName = "belts-test"
	tc := cfg.TracingConfig()
	if !tc.Enabled {
		t.Fatal("Enabled = false, want env override to enable tracing")
	}
	if tc.ServiceName != "belts-test" || tc.Exporter != "stdout" {
		t.Fatalf("TracingConfig() = %+v", tc)
	}
}

func TestApplyLayoutPlacesBeltsAndItems(t *testing.T) {
	r := core.NewRegistry()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})

	cfg := SquareLoop()
	cfg.Items = append(cfg.Items, ItemSpec{X: 5, Y: 5})
	n, err := cfg.ApplyLayout(r)
	if err != nil {
		t.Fatalf("ApplyLayout() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("accepted = %d, want 1 (item on an empty cell is skipped)", n)
	}
	if r.Len() != 4 {
		t.Fatalf("belts = %d, want 4", r.Len())
	}
	b, ok := r.FindAt(model.Coord{X: 1, Y: 1})
	if !ok || b.Direction() != model.Left {
		t.Fatalf("belt at (1,1) = %v, %v; want LEFT", b, ok)
	}
	if got := r.Snapshot().ItemCount(); got != 1 {
		t.Fatalf("items = %d, want 1", got)
	}
}
