package varstore

import (
	"errors"
	"time"
)

// Type is the value type of a registered variable.
type Type int

const (
	TypeUint16 Type = iota + 1
	TypeUint32
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// Flags alter write/persist behavior of a variable.
type Flags uint32

const (
	FlagNone Flags = 0

	// FlagVolatile excludes the variable from persistence.
	FlagVolatile Flags = 1 << iota

	// FlagTrigger makes every write notify, regardless of value.
	// Trigger variables do not retain the written value.
	FlagTrigger
)

// Notify selects which event a variable emits.
type Notify int

const (
	NotifyNone Notify = iota

	// NotifyModified publishes a Modified event on committed writes.
	NotifyModified

	// NotifyPrint marks the variable as answering reads via print sessions.
	NotifyPrint
)

// DefaultStringLen bounds string variables whose Def leaves MaxLen at 0.
const DefaultStringLen = 256

// Def declares a variable to be registered.
type Def struct {
	Name   string
	Type   Type
	Flags  Flags
	MaxLen int // strings only; 0 means DefaultStringLen
	Notify Notify
}

// Event types published on the bus.
const (
	EventModified = "var.modified"
	EventPrint    = "var.print"
)

// Modified is the payload of an EventModified event.
type Modified struct {
	Key string
}

// PrintRequest is the payload of an EventPrint event.
type PrintRequest struct {
	Key string
	ID  int32
}

// PersistConfig configures the optional SQLite value store.
type PersistConfig struct {
	Path        string        // empty disables persistence
	BusyTimeout time.Duration // 0 means default
}

var (
	ErrNotFound   = errors.New("varstore: no such variable")
	ErrBadType    = errors.New("varstore: wrong variable type")
	ErrTooLong    = errors.New("varstore: string value exceeds variable length")
	ErrDuplicate  = errors.New("varstore: variable already registered")
	ErrBadSession = errors.New("varstore: no such print session")
)
