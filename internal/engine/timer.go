package engine

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"udpcast/internal/eventbus"
	logx "udpcast/pkg/logx"
)

// EventTimerFired is published on the bus whenever the broadcast timer or
// the cron schedule elapses.
const EventTimerFired = "timer.fired"

// Timer owns the single repeating broadcast timer. It can run either on a
// fixed interval or on a cron schedule, never both: arming one side disarms
// the other (last writer wins).
type Timer struct {
	bus eventbus.Bus
	log logx.Logger

	mu     sync.Mutex
	period time.Duration
	ticker *time.Ticker
	stopCh chan struct{}

	spec string
	cr   *cron.Cron
}

func NewTimer(bus eventbus.Bus, log logx.Logger) *Timer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Timer{bus: bus, log: log}
}

// Arm (re)starts the interval timer. A zero period disarms. Re-arming with
// the current period is a no-op, so repeated writes of the same rate do not
// churn timer resources.
func (t *Timer) Arm(period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if period <= 0 {
		// Disarms only the interval side; an armed cron schedule is a
		// separate setting and stays active.
		t.stopIntervalLocked()
		t.period = 0
		return
	}
	if period == t.period && t.ticker != nil {
		return
	}

	t.stopIntervalLocked()
	t.stopScheduleLocked()
	t.period = period

	t.ticker = time.NewTicker(period)
	t.stopCh = make(chan struct{})
	go t.run(t.ticker, t.stopCh)
	t.log.Debug("broadcast timer armed", logx.Duration("period", period))
}

// ArmSchedule (re)starts the cron side. An empty spec disarms it. A parse
// error is surfaced to the caller and leaves the previous schedule running.
func (t *Timer) ArmSchedule(spec string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if spec == t.spec {
		return nil
	}
	if spec == "" {
		t.stopScheduleLocked()
		return nil
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return err
	}

	t.stopIntervalLocked()
	t.stopScheduleLocked()
	t.period = 0

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(t.fire))
	c.Start()
	t.cr = c
	t.spec = spec
	t.log.Debug("broadcast schedule armed", logx.String("spec", spec))
	return nil
}

// Disarm cancels whichever side is active.
func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopIntervalLocked()
	t.stopScheduleLocked()
	t.period = 0
}

func (t *Timer) stopIntervalLocked() {
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.stopCh)
		t.ticker = nil
		t.stopCh = nil
	}
}

func (t *Timer) stopScheduleLocked() {
	if t.cr != nil {
		t.cr.Stop()
		t.cr = nil
	}
	t.spec = ""
}

func (t *Timer) run(ticker *time.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.fire()
		}
	}
}

func (t *Timer) fire() {
	t.bus.Publish(eventbus.Event{Type: EventTimerFired})
}
