// Package app assembles the udpcast daemon: logging, event bus, variable
// store, and the broadcast engine.
package app

import (
	"context"
	"sync"

	"udpcast/internal/engine"
	"udpcast/internal/eventbus"
	"udpcast/internal/varstore"
	logx "udpcast/pkg/logx"
)

// Config is the process-level configuration collected from the command line.
type Config struct {
	Keys         engine.Keys
	TemplatePath string

	// DefaultsPath seeds the variable store and is watched for edits.
	DefaultsPath string

	// PersistPath enables the SQLite value store when non-empty.
	PersistPath string

	// TriggerPerSec caps trigger-driven broadcast cycles; 0 = unlimited.
	TriggerPerSec int

	Logging logx.Config
}

type App struct {
	log  logx.Logger
	logs *logx.Service

	bus    eventbus.Bus
	store  *varstore.Store
	engine *engine.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*App, error) {
	logs, log := logx.New(cfg.Logging)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := varstore.Open(varstore.Options{
		DefaultsPath: cfg.DefaultsPath,
		Persist:      varstore.PersistConfig{Path: cfg.PersistPath},
		Bus:          bus,
		Log:          logs.Logger().With(logx.String("comp", "varstore")),
	})
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	eng := engine.New(engine.Options{
		Store:         store,
		Bus:           bus,
		Keys:          cfg.Keys,
		TemplatePath:  cfg.TemplatePath,
		TriggerPerSec: cfg.TriggerPerSec,
		Log:           logs.Logger().With(logx.String("comp", "engine")),
		Logs:          logs,
	})
	if err := eng.RegisterVars(); err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	return &App{log: log, logs: logs, bus: bus, store: store, engine: eng}, nil
}

// Logger exposes the root logger for the command wrapper.
func (a *App) Logger() logx.Logger { return a.logs.Logger() }

// Start launches the store watcher and the dispatcher loop.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.store.Watch(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.engine.Run(runCtx)
	}()

	a.log.Info("udpcast started")
	return nil
}

// Stop cancels the run context and waits for the loops to drain.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out waiting for loops")
	}

	err := a.store.Close()
	a.log.Info("udpcast stopped")
	_ = a.logs.Close()
	return err
}
