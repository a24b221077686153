// Command beltsim is a terminal front end for the conveyor simulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/config"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
)

const defaultLogFile = "beltsim.log"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	logFile := flag.String("log-file", "", "file receiving logs while the terminal is in use (default logging.file or "+defaultLogFile+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	path := *logFile
	if path == "" {
		path = cfg.Logging.File
	}
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	lc := cfg.LoggerConfig()
	lc.Output = f
	log := logging.New(lc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "beltsim exited", logging.Err(err))
		fmt.Fprintf(os.Stderr, "beltsim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	registry := core.NewRegistry(
		core.WithParams(cfg.EngineParams()),
		core.WithLogger(log),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "engine shutdown", logging.Err(err))
		}
	}()
	if _, err := cfg.ApplyLayout(registry); err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()
	screen.EnableMouse()

	log.Info(ctx, "terminal UI started",
		logging.Int("width", cfg.Grid.Width),
		logging.Int("height", cfg.Grid.Height),
	)
	newUI(registry, cfg.Bounds(), log).loop(ctx, screen, redrawInterval)
	return nil
}
