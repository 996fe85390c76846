package engine

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"udpcast/internal/eventbus"
	"udpcast/internal/netif"
	"udpcast/internal/varstore"
)

type sentDatagram struct {
	iface   string
	dst     netip.Addr
	port    uint16
	payload string
}

type testRig struct {
	store  *varstore.Store
	bus    eventbus.Bus
	engine *Engine
	sent   []sentDatagram
}

func rec4(name, addr, bcast string) netif.Record {
	return netif.Record{
		Name:      name,
		Family:    netif.IPv4,
		Addr:      netip.MustParseAddr(addr),
		Broadcast: netip.MustParseAddr(bcast),
	}
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.tmpl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

// newRig builds an engine against a fresh store with fake select/send seams.
func newRig(t *testing.T, templatePath string, recs []netif.Record) *testRig {
	t.Helper()
	bus := eventbus.New()
	store, err := varstore.Open(varstore.Options{Bus: bus})
	if err != nil {
		t.Fatalf("varstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rig := &testRig{store: store, bus: bus}
	rig.engine = New(Options{
		Store:        store,
		Bus:          bus,
		Keys:         DefaultKeys(),
		TemplatePath: templatePath,
	})
	if err := rig.engine.RegisterVars(); err != nil {
		t.Fatalf("RegisterVars: %v", err)
	}

	rig.engine.selectFn = func(allowList []string) ([]netif.Record, error) {
		var out []netif.Record
		for _, r := range recs {
			if len(allowList) == 0 {
				out = append(out, r)
				continue
			}
			for _, want := range allowList {
				if want != "" && strings.Contains(r.Name, want) {
					out = append(out, r)
					break
				}
			}
		}
		return out, nil
	}
	rig.engine.sendFn = func(_ context.Context, r netif.Record, port uint16, payload []byte) error {
		rig.sent = append(rig.sent, sentDatagram{
			iface: r.Name, dst: r.Broadcast, port: port, payload: string(payload),
		})
		return nil
	}
	return rig
}

func (r *testRig) configure(t *testing.T, enable uint16, port uint16, txrate uint32, ifaces string) {
	t.Helper()
	keys := r.engine.keys
	sets := []error{
		r.store.SetUint16(keys.Enable, enable),
		r.store.SetUint16(keys.Port, port),
		r.store.SetUint32(keys.TxRate, txrate),
		r.store.SetString(keys.Interfaces, ifaces),
	}
	for _, err := range sets {
		if err != nil {
			t.Fatalf("configure: %v", err)
		}
	}
	r.engine.refreshAll()
}

func TestTriggerBroadcastSingleInterface(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `{"ip":"${udpcast/ipaddr}"}`)
	rig := newRig(t, tmpl, []netif.Record{rec4("eth0", "10.0.0.5", "10.0.0.255")})
	rig.configure(t, 1, 20566, 0, "eth0")

	rig.engine.runCycle(context.Background(), "trigger")

	if len(rig.sent) != 1 {
		t.Fatalf("sent %d datagrams, want 1", len(rig.sent))
	}
	got := rig.sent[0]
	if got.payload != `{"ip":"10.0.0.5"}` {
		t.Fatalf("payload = %q", got.payload)
	}
	if got.port != 20566 || got.dst.String() != "10.0.0.255" {
		t.Fatalf("dst = %s:%d", got.dst, got.port)
	}
	st := rig.engine.Stats()
	if st.TxCount != 1 || st.ErrCount != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if st.LastAddr != "10.0.0.5" {
		t.Fatalf("LastAddr = %q", st.LastAddr)
	}

	report := rig.engine.Report()
	for _, want := range []string{`"txcount":1`, `"errcount":0`, `"enabled":true`, `"port":20566`} {
		if !strings.Contains(report, want) {
			t.Fatalf("report %q missing %q", report, want)
		}
	}
}

func TestDisabledEngineIsSilentNoOp(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `payload`)
	rig := newRig(t, tmpl, []netif.Record{rec4("eth0", "10.0.0.5", "10.0.0.255")})
	rig.configure(t, 0, 20566, 0, "")

	selected := false
	rig.engine.selectFn = func([]string) ([]netif.Record, error) {
		selected = true
		return nil, nil
	}

	rig.engine.handle(context.Background(), eventbus.Event{Type: EventTimerFired})
	rig.engine.runCycle(context.Background(), "trigger")

	if selected {
		t.Fatal("disabled engine must not enumerate interfaces")
	}
	if len(rig.sent) != 0 {
		t.Fatalf("sent %d datagrams, want 0", len(rig.sent))
	}
	if st := rig.engine.Stats(); st.TxCount != 0 || st.ErrCount != 0 {
		t.Fatalf("stats changed while disabled: %+v", st)
	}
}

func TestEmptyEligibleSetIsNotAnError(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `payload`)
	rig := newRig(t, tmpl, []netif.Record{rec4("eth0", "10.0.0.5", "10.0.0.255")})
	rig.configure(t, 1, 20566, 0, "wlan0")

	rig.engine.runCycle(context.Background(), "trigger")

	if len(rig.sent) != 0 {
		t.Fatalf("sent %d datagrams, want 0", len(rig.sent))
	}
	if st := rig.engine.Stats(); st.TxCount != 0 || st.ErrCount != 0 {
		t.Fatalf("stats = %+v, want untouched", st)
	}
}

func TestMissingTemplateCountsOneErrorPerInterface(t *testing.T) {
	t.Parallel()
	rig := newRig(t, "/nonexistent/payload.tmpl", []netif.Record{
		rec4("eth0", "10.0.0.5", "10.0.0.255"),
		rec4("eth1", "10.0.1.5", "10.0.1.255"),
	})
	rig.configure(t, 1, 20566, 0, "")

	rig.engine.runCycle(context.Background(), "trigger")

	if len(rig.sent) != 0 {
		t.Fatalf("sent %d datagrams, want 0", len(rig.sent))
	}
	if st := rig.engine.Stats(); st.TxCount != 0 || st.ErrCount != 2 {
		t.Fatalf("stats = %+v, want errcount=2", st)
	}
}

func TestSendFailureDoesNotAbortCycle(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `payload`)
	rig := newRig(t, tmpl, []netif.Record{
		rec4("eth0", "10.0.0.5", "10.0.0.255"),
		rec4("eth1", "10.0.1.5", "10.0.1.255"),
	})
	rig.configure(t, 1, 20566, 0, "")

	inner := rig.engine.sendFn
	rig.engine.sendFn = func(ctx context.Context, r netif.Record, port uint16, payload []byte) error {
		if r.Name == "eth0" {
			return context.DeadlineExceeded
		}
		return inner(ctx, r, port, payload)
	}

	rig.engine.runCycle(context.Background(), "trigger")

	if len(rig.sent) != 1 || rig.sent[0].iface != "eth1" {
		t.Fatalf("sent = %+v, want one datagram on eth1", rig.sent)
	}
	if st := rig.engine.Stats(); st.TxCount != 1 || st.ErrCount != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRenderHappensPerInterface(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `${udpcast/ipaddr}`)
	rig := newRig(t, tmpl, []netif.Record{
		rec4("eth0", "10.0.0.5", "10.0.0.255"),
		rec4("eth1", "10.0.1.5", "10.0.1.255"),
	})
	rig.configure(t, 1, 20566, 0, "eth")

	rig.engine.runCycle(context.Background(), "trigger")

	if len(rig.sent) != 2 {
		t.Fatalf("sent %d datagrams, want 2", len(rig.sent))
	}
	if rig.sent[0].payload != "10.0.0.5" || rig.sent[1].payload != "10.0.1.5" {
		t.Fatalf("payloads = %q, %q; each interface must carry its own address",
			rig.sent[0].payload, rig.sent[1].payload)
	}
}

func TestEnumerationFailureCountsOnce(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `payload`)
	rig := newRig(t, tmpl, nil)
	rig.configure(t, 1, 20566, 0, "")

	rig.engine.selectFn = func([]string) ([]netif.Record, error) {
		return nil, os.ErrPermission
	}
	rig.engine.runCycle(context.Background(), "trigger")

	if st := rig.engine.Stats(); st.TxCount != 0 || st.ErrCount != 1 {
		t.Fatalf("stats = %+v, want exactly one error", st)
	}
}

func TestLiteralTemplatePassesThrough(t *testing.T) {
	t.Parallel()
	const literal = `no placeholders here`
	tmpl := writeTemplate(t, literal)
	rig := newRig(t, tmpl, []netif.Record{rec4("eth0", "10.0.0.5", "10.0.0.255")})
	rig.configure(t, 1, 9, 0, "")

	rig.engine.runCycle(context.Background(), "trigger")

	if len(rig.sent) != 1 || rig.sent[0].payload != literal {
		t.Fatalf("sent = %+v, want the literal template bytes", rig.sent)
	}
}

func TestTriggerRateLimit(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `payload`)
	rig := newRig(t, tmpl, []netif.Record{rec4("eth0", "10.0.0.5", "10.0.0.255")})
	rig.configure(t, 1, 9, 0, "")

	// Rebuild with a 1/sec trigger cap, reusing the rig's seams.
	limited := New(Options{
		Store:         rig.store,
		Bus:           rig.bus,
		Keys:          DefaultKeys(),
		TemplatePath:  tmpl,
		TriggerPerSec: 1,
	})
	limited.selectFn = rig.engine.selectFn
	limited.sendFn = rig.engine.sendFn
	limited.refreshAll()

	ctx := context.Background()
	limited.handleModified(ctx, limited.keys.Trigger)
	limited.handleModified(ctx, limited.keys.Trigger)

	if len(rig.sent) != 1 {
		t.Fatalf("sent %d datagrams, want 1 (second trigger limited)", len(rig.sent))
	}
}

func TestModifiedRefreshesConfig(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `payload`)
	rig := newRig(t, tmpl, nil)
	keys := rig.engine.keys
	ctx := context.Background()

	_ = rig.store.SetUint16(keys.Enable, 1)
	rig.engine.handleModified(ctx, keys.Enable)
	if !rig.engine.cfg.Enabled {
		t.Fatal("enable change not applied")
	}

	_ = rig.store.SetString(keys.Interfaces, "eth0, wlan0")
	rig.engine.handleModified(ctx, keys.Interfaces)
	if got := rig.engine.cfg.AllowList; len(got) != 2 || got[0] != "eth0" || got[1] != "wlan0" {
		t.Fatalf("AllowList = %v", got)
	}

	_ = rig.store.SetUint32(keys.TxRate, 30)
	rig.engine.handleModified(ctx, keys.TxRate)
	if rig.engine.cfg.TxRate != 30 {
		t.Fatalf("TxRate = %d", rig.engine.cfg.TxRate)
	}
	if rig.engine.timer.period != 30*time.Second {
		t.Fatalf("timer period = %v, want 30s", rig.engine.timer.period)
	}

	_ = rig.store.SetUint32(keys.TxRate, 0)
	rig.engine.handleModified(ctx, keys.TxRate)
	if rig.engine.timer.period != 0 || rig.engine.timer.ticker != nil {
		t.Fatal("txrate=0 must disarm the timer")
	}
}

// TestDispatcherEndToEnd drives the real Run loop through the bus: a trigger
// write causes a broadcast, and a print request returns the report.
func TestDispatcherEndToEnd(t *testing.T) {
	t.Parallel()
	tmpl := writeTemplate(t, `{"ip":"${udpcast/ipaddr}"}`)

	bus := eventbus.New()
	store, err := varstore.Open(varstore.Options{Bus: bus})
	if err != nil {
		t.Fatalf("varstore.Open: %v", err)
	}
	defer store.Close()

	eng := New(Options{
		Store:        store,
		Bus:          bus,
		Keys:         DefaultKeys(),
		TemplatePath: tmpl,
	})
	if err := eng.RegisterVars(); err != nil {
		t.Fatalf("RegisterVars: %v", err)
	}
	keys := eng.keys

	sentCh := make(chan sentDatagram, 4)
	eng.selectFn = func([]string) ([]netif.Record, error) {
		return []netif.Record{rec4("eth0", "10.0.0.5", "10.0.0.255")}, nil
	}
	eng.sendFn = func(_ context.Context, r netif.Record, port uint16, payload []byte) error {
		sentCh <- sentDatagram{iface: r.Name, port: port, payload: string(payload)}
		return nil
	}

	_ = store.SetUint16(keys.Enable, 1)
	_ = store.SetUint16(keys.Port, 20566)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()

	// Give the loop a moment to subscribe before firing the trigger.
	time.Sleep(50 * time.Millisecond)
	if err := store.SetUint16(keys.Trigger, 1); err != nil {
		t.Fatalf("trigger write: %v", err)
	}

	select {
	case got := <-sentCh:
		if got.payload != `{"ip":"10.0.0.5"}` || got.port != 20566 {
			t.Fatalf("sent = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram after trigger")
	}

	_, respCh, err := store.RequestPrint(keys.Metrics)
	if err != nil {
		t.Fatalf("RequestPrint: %v", err)
	}
	select {
	case report := <-respCh:
		if !strings.Contains(report, `"txcount":1`) {
			t.Fatalf("report = %q", report)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no print response")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
