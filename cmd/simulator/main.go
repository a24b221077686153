package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/config"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; the 2x2 loop is used when it has no layout")
	duration := flag.Duration("duration", 10*time.Second, "how long to run the scenario")
	tickRate := flag.Float64("tick-rate", 0, "override simulation.tick_rate (ticks per second)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.Layout) == 0 {
		demo := config.SquareLoop()
		cfg.Layout, cfg.Items = demo.Layout, demo.Items
	}
	if *tickRate > 0 {
		cfg.Simulation.TickRate = *tickRate
	}

	log := logging.New(cfg.LoggerConfig())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	trails, err := runScenario(ctx, cfg, log)
	if err != nil {
		log.Error(context.Background(), "scenario failed", logging.Err(err))
		os.Exit(1)
	}
	for id, trail := range trails {
		log.Info(context.Background(), "item trail",
			logging.Int("item_id", id),
			logging.Int("cells_visited", len(trail)),
		)
	}
}

// runScenario applies cfg's layout, logs every item's moves until ctx ends
// and returns the cells each item visited in order.
func runScenario(ctx context.Context, cfg config.Config, log logging.Logger) (map[int][]model.Coord, error) {
	registry := core.NewRegistry(
		core.WithParams(cfg.EngineParams()),
		core.WithLogger(log),
	)

	changed := make(chan struct{}, 1)
	unsubscribe := registry.Watch(func(uint64) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	items, err := cfg.ApplyLayout(registry)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	log.Info(ctx, "scenario started",
		logging.Int("belts", registry.Len()),
		logging.Int("items", items),
	)

	track := newTracker(log)
	track.observe(ctx, registry.Snapshot())
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-changed:
			track.observe(ctx, registry.Snapshot())
		}
	}
	unsubscribe()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		return track.trails, err
	}
	final := registry.Snapshot()
	log.Info(shutdownCtx, "scenario finished",
		logging.Int("items_on_belts", final.ItemCount()-len(final.InFlight)),
		logging.Int("items_in_flight", len(final.InFlight)),
	)
	return track.trails, nil
}

// tracker remembers the last cell each item was seen on.
type tracker struct {
	log    logging.Logger
	last   map[int]model.Coord
	trails map[int][]model.Coord
}

func newTracker(log logging.Logger) *tracker {
	return &tracker{
		log:    log,
		last:   make(map[int]model.Coord),
		trails: make(map[int][]model.Coord),
	}
}

func (t *tracker) observe(ctx context.Context, snap core.GridSnapshot) {
	for _, cell := range snap.Cells {
		for _, p := range cell.Items {
			id := p.Item.ID
			prev, seen := t.last[id]
			if seen && prev == cell.At {
				continue
			}
			t.last[id] = cell.At
			t.trails[id] = append(t.trails[id], cell.At)
			if seen {
				t.log.Info(ctx, "item moved",
					logging.Int("item_id", id),
					logging.String("from", prev.String()),
					logging.String("to", cell.At.String()),
				)
			}
		}
	}
}
