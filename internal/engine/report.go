package engine

import (
	"encoding/json"
	"strings"
)

// statsReport is the flat print-session payload.
type statsReport struct {
	Enabled    bool   `json:"enabled"`
	Port       uint16 `json:"port"`
	TxRate     uint32 `json:"txrate"`
	TxCount    uint32 `json:"txcount"`
	ErrCount   uint32 `json:"errcount"`
	Interfaces string `json:"interfaces"`
}

// Report renders the current configuration and counters as a flat JSON
// object. It is a pure read of the loop-owned state.
func (e *Engine) Report() string {
	r := statsReport{
		Enabled:    e.cfg.Enabled,
		Port:       e.cfg.Port,
		TxRate:     e.cfg.TxRate,
		TxCount:    e.stats.TxCount,
		ErrCount:   e.stats.ErrCount,
		Interfaces: strings.Join(e.cfg.AllowList, ","),
	}
	b, err := json.Marshal(r)
	if err != nil {
		// The struct is all scalars; this cannot fail in practice.
		return "{}"
	}
	return string(b)
}
