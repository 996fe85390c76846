package engine

import (
	"context"
	"fmt"
	"os"

	"udpcast/internal/template"
	logx "udpcast/pkg/logx"
)

// runCycle performs one broadcast cycle: select interfaces, then render and
// transmit per interface. Failures are counted, never escalated; a disabled
// engine skips silently (disabling broadcasts is policy, not an error).
func (e *Engine) runCycle(ctx context.Context, reason string) {
	if !e.cfg.Enabled {
		e.log.Debug("broadcast disabled; skipping cycle", logx.String("reason", reason))
		return
	}

	recs, err := e.selectFn(e.cfg.AllowList)
	if err != nil {
		e.stats.ErrCount++
		e.log.Warn("interface enumeration failed", logx.Err(err))
		return
	}
	if len(recs) == 0 {
		// Nothing eligible is a normal outcome, not a failure.
		e.log.Debug("no eligible interfaces", logx.String("reason", reason))
		return
	}

	sent := 0
	for _, rec := range recs {
		// Expose this interface's address so the template can reference it.
		// Numeric form only; no resolution.
		addr := rec.Addr.String()
		if e.keys.IPAddr != "" {
			if err := e.store.SetString(e.keys.IPAddr, addr); err != nil {
				e.log.Warn("publishing local address failed",
					logx.String("iface", rec.Name), logx.Err(err))
			}
		}
		e.stats.LastAddr = addr

		payload, err := e.render()
		if err != nil {
			e.stats.ErrCount++
			e.log.Warn("render failed",
				logx.String("iface", rec.Name), logx.Err(err))
			continue
		}

		// The trailing NUL is for text consumers of the buffer; it is not
		// part of the wire payload.
		wire := payload[:len(payload)-1]
		if err := e.sendFn(ctx, rec, e.cfg.Port, wire); err != nil {
			e.stats.ErrCount++
			e.log.Warn("broadcast send failed",
				logx.String("iface", rec.Name),
				logx.String("dst", rec.Broadcast.String()), logx.Err(err))
			continue
		}
		e.stats.TxCount++
		sent++
	}

	e.log.Debug("broadcast cycle done",
		logx.String("reason", reason),
		logx.Int("interfaces", len(recs)),
		logx.Int("sent", sent))
}

// render reads the template file and expands it against the store, appending
// a single NUL terminator so the buffer can be consumed as a C string.
func (e *Engine) render() ([]byte, error) {
	if e.templatePath == "" {
		return nil, ErrTemplateNotConfigured
	}
	tpl, err := os.ReadFile(e.templatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateNotFound, err)
	}
	out, err := template.Render(tpl, e.store.Lookup, template.MaxPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return append(out, 0), nil
}
