package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"udpcast/internal/eventbus"
	"udpcast/internal/netif"
	"udpcast/internal/transmit"
	"udpcast/internal/varstore"
	logx "udpcast/pkg/logx"
)

// Options configures New.
type Options struct {
	Store *varstore.Store
	Bus   eventbus.Bus
	Keys  Keys

	// TemplatePath is the broadcast template file. It comes from the
	// process command line, not from the store.
	TemplatePath string

	// TriggerPerSec caps trigger-driven cycles; 0 means unlimited.
	// Timer-driven cycles are never limited.
	TriggerPerSec int

	Log logx.Logger

	// Logs, when set, lets the verbose variable switch the level at runtime.
	Logs *logx.Service
}

// Engine is the reactive broadcast engine. All state below the bus
// subscription is owned by the Run loop.
type Engine struct {
	store *varstore.Store
	bus   eventbus.Bus
	log   logx.Logger
	logs  *logx.Service

	keys         Keys
	templatePath string
	actions      map[string]action

	timer       *Timer
	trigLimiter *rate.Limiter

	cfg   Config
	stats Stats

	// Seams for tests; production wiring uses the real packages.
	selectFn func(allowList []string) ([]netif.Record, error)
	sendFn   func(ctx context.Context, rec netif.Record, port uint16, payload []byte) error
}

func New(opts Options) *Engine {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	e := &Engine{
		store:        opts.Store,
		bus:          opts.Bus,
		log:          log,
		logs:         opts.Logs,
		keys:         opts.Keys,
		templatePath: opts.TemplatePath,
		timer:        NewTimer(opts.Bus, log),
		selectFn:     netif.Select,
		sendFn:       transmit.Send,
	}
	if opts.TriggerPerSec > 0 {
		e.trigLimiter = rate.NewLimiter(rate.Limit(opts.TriggerPerSec), opts.TriggerPerSec)
	}

	e.actions = map[string]action{}
	bind := func(key string, a action) {
		if key != "" {
			e.actions[key] = a
		}
	}
	bind(e.keys.Verbose, actLogLevel)
	bind(e.keys.Trigger, actTrigger)
	bind(e.keys.TxRate, actRearmTimer)
	bind(e.keys.Enable, actNone)
	bind(e.keys.Interfaces, actNone)
	bind(e.keys.Port, actNone)
	bind(e.keys.Schedule, actRearmSchedule)

	return e
}

// RegisterVars creates the engine's variables in the store. Keys with empty
// names are skipped.
func (e *Engine) RegisterVars() error {
	for _, def := range e.keys.registerDefs() {
		if err := e.store.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Run is the dispatcher loop: it blocks for the next event and handles
// exactly one at a time. It returns when ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	ch, unsub := e.bus.Subscribe(32)
	defer unsub()
	defer e.timer.Disarm()

	// Snapshot the store-backed settings, then arm from the initial rate.
	e.refreshAll()
	e.timer.Arm(time.Duration(e.cfg.TxRate) * time.Second)
	if e.cfg.Schedule != "" {
		if err := e.timer.ArmSchedule(e.cfg.Schedule); err != nil {
			e.log.Warn("broadcast schedule rejected",
				logx.String("spec", e.cfg.Schedule), logx.Err(err))
		}
	}

	e.log.Info("broadcast engine running",
		logx.Bool("enabled", e.cfg.Enabled),
		logx.Uint32("txrate_s", e.cfg.TxRate),
		logx.Int("port", int(e.cfg.Port)))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case EventTimerFired:
		e.runCycle(ctx, "timer")
	case varstore.EventModified:
		if m, ok := ev.Data.(varstore.Modified); ok {
			e.handleModified(ctx, m.Key)
		}
	case varstore.EventPrint:
		if pr, ok := ev.Data.(varstore.PrintRequest); ok {
			e.handlePrint(pr)
		}
	default:
		e.log.Debug("ignoring unknown event", logx.String("type", ev.Type))
	}
}

func (e *Engine) handleModified(ctx context.Context, key string) {
	a, known := e.actions[key]
	if !known {
		e.log.Debug("modified event for unbound variable", logx.String("var", key))
		return
	}

	e.refreshKey(key)

	switch a {
	case actRearmTimer:
		e.timer.Arm(time.Duration(e.cfg.TxRate) * time.Second)
	case actRearmSchedule:
		if err := e.timer.ArmSchedule(e.cfg.Schedule); err != nil {
			e.log.Warn("broadcast schedule rejected",
				logx.String("spec", e.cfg.Schedule), logx.Err(err))
		}
	case actTrigger:
		if e.trigLimiter != nil && !e.trigLimiter.Allow() {
			e.log.Debug("trigger rate limited")
			return
		}
		e.runCycle(ctx, "trigger")
	case actLogLevel:
		e.applyVerbose()
	}
}

func (e *Engine) handlePrint(pr varstore.PrintRequest) {
	if pr.Key == e.keys.Metrics && e.keys.Metrics != "" {
		if err := e.store.Respond(pr.ID, e.Report()); err != nil {
			e.log.Warn("print response failed", logx.Err(err))
		}
	}
	// The session closes whether or not anything was written.
	if err := e.store.ClosePrint(pr.ID); err != nil {
		e.log.Warn("print session close failed", logx.Err(err))
	}
}

// refreshAll loads every bound variable into the config snapshot.
func (e *Engine) refreshAll() {
	for _, key := range []string{
		e.keys.Verbose, e.keys.TxRate, e.keys.Enable,
		e.keys.Interfaces, e.keys.Port, e.keys.Schedule,
	} {
		if key != "" {
			e.refreshKey(key)
		}
	}
	e.applyVerbose()
}

// refreshKey re-reads one variable from the store into the config snapshot.
// Fields other than the trigger side effects take effect on the next cycle.
func (e *Engine) refreshKey(key string) {
	switch key {
	case e.keys.Verbose:
		// handled by applyVerbose; nothing cached
	case e.keys.Enable:
		v, err := e.store.Uint16(key)
		if err == nil {
			e.cfg.Enabled = v != 0
		}
	case e.keys.Port:
		v, err := e.store.Uint16(key)
		if err == nil {
			e.cfg.Port = v
		}
	case e.keys.TxRate:
		v, err := e.store.Uint32(key)
		if err == nil {
			e.cfg.TxRate = v
		}
	case e.keys.Interfaces:
		v, err := e.store.String(key)
		if err == nil {
			e.cfg.AllowList = parseAllowList(v)
		}
	case e.keys.Schedule:
		v, err := e.store.String(key)
		if err == nil {
			e.cfg.Schedule = v
		}
	}
}

func (e *Engine) applyVerbose() {
	if e.logs == nil || e.keys.Verbose == "" {
		return
	}
	v, err := e.store.Uint16(e.keys.Verbose)
	if err != nil {
		return
	}
	if v != 0 {
		e.logs.SetLevel("DEBUG")
	} else {
		e.logs.SetLevel("INFO")
	}
}

// Stats returns a copy of the counters. Only meaningful from the loop
// goroutine or after Run has returned; exposed for the stats report and tests.
func (e *Engine) Stats() Stats { return e.stats }
