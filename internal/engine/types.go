package engine

import (
	"errors"
	"strings"

	"udpcast/internal/varstore"
)

// Keys names the variables the engine binds in the store. External names are
// operator-supplied; their meaning here is fixed. An empty name leaves that
// binding unregistered, matching the original option-driven surface.
type Keys struct {
	Verbose    string // uint16, nonzero switches logging to debug
	Trigger    string // volatile uint16; any write requests a cycle
	TxRate     string // uint32, broadcast interval in seconds, 0 disables
	Enable     string // uint16, nonzero enables broadcasting
	Interfaces string // string, comma/space separated name substrings
	Port       string // uint16, destination broadcast port
	Metrics    string // print variable answering the stats report
	Schedule   string // string, optional cron spec alternative to TxRate
	IPAddr     string // string, written by the engine per interface
}

// DefaultKeys returns the conventional variable names.
func DefaultKeys() Keys {
	return Keys{
		Verbose:    "udpcast/verbose",
		Trigger:    "udpcast/trigger",
		TxRate:     "udpcast/txrate",
		Enable:     "udpcast/enable",
		Interfaces: "udpcast/interfaces",
		Port:       "udpcast/port",
		Metrics:    "udpcast/info",
		Schedule:   "udpcast/schedule",
		IPAddr:     "udpcast/ipaddr",
	}
}

// Config is the engine's snapshot of the store-backed settings. It is
// refreshed field-by-field from Modified events, only inside the Run loop.
type Config struct {
	Enabled   bool
	Port      uint16
	TxRate    uint32 // seconds, 0 = timer disabled
	AllowList []string
	Schedule  string
}

// Stats are monotonic for the process lifetime; they are never reset except
// by restart.
type Stats struct {
	TxCount  uint32
	ErrCount uint32
	LastAddr string // last local address exposed to the template
}

var (
	ErrTemplateNotConfigured = errors.New("engine: template path not configured")
	ErrTemplateNotFound      = errors.New("engine: template not found")
	ErrRenderFailed          = errors.New("engine: template render failed")
)

// action is the per-key side effect applied after refreshing a modified
// variable, beyond storing the new value.
type action int

const (
	actNone action = iota
	actRearmTimer
	actRearmSchedule
	actTrigger
	actLogLevel
)

// parseAllowList splits the interface list variable into substring entries.
// Empty input means "all interfaces".
func parseAllowList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// registerDefs builds the variable definitions for the configured keys.
func (k Keys) registerDefs() []varstore.Def {
	var defs []varstore.Def
	add := func(d varstore.Def) {
		if d.Name != "" {
			defs = append(defs, d)
		}
	}
	add(varstore.Def{Name: k.Verbose, Type: varstore.TypeUint16, Notify: varstore.NotifyModified})
	add(varstore.Def{
		Name: k.Trigger, Type: varstore.TypeUint16,
		Flags:  varstore.FlagVolatile | varstore.FlagTrigger,
		Notify: varstore.NotifyModified,
	})
	add(varstore.Def{Name: k.TxRate, Type: varstore.TypeUint32, Notify: varstore.NotifyModified})
	add(varstore.Def{Name: k.Enable, Type: varstore.TypeUint16, Notify: varstore.NotifyModified})
	add(varstore.Def{Name: k.Interfaces, Type: varstore.TypeString, Notify: varstore.NotifyModified})
	add(varstore.Def{Name: k.Port, Type: varstore.TypeUint16, Notify: varstore.NotifyModified})
	add(varstore.Def{Name: k.Metrics, Type: varstore.TypeUint16, Notify: varstore.NotifyPrint})
	add(varstore.Def{Name: k.Schedule, Type: varstore.TypeString, Notify: varstore.NotifyModified})
	add(varstore.Def{Name: k.IPAddr, Type: varstore.TypeString, Flags: varstore.FlagVolatile})
	return defs
}
