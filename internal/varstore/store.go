package varstore

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"udpcast/internal/eventbus"
	logx "udpcast/pkg/logx"
)

// Options configures Open.
type Options struct {
	// DefaultsPath is an optional YAML file of name->value seeds.
	DefaultsPath string

	// Persist enables the SQLite value store when Path is set.
	Persist PersistConfig

	Bus eventbus.Bus
	Log logx.Logger
}

type variable struct {
	def Def
	num uint64 // uint16/uint32 value
	str string // string value
}

type printSession struct {
	key string
	buf strings.Builder
	ch  chan string
}

// Store holds the registered variables.
type Store struct {
	bus eventbus.Bus
	log logx.Logger

	defaultsPath string

	mu    sync.RWMutex
	vars  map[string]*variable
	seeds map[string]string // file/persist values for not-yet-registered names

	db *valueDB

	sessMu   sync.Mutex
	sessSeq  int32
	sessions map[int32]*printSession
}

// Open creates a store, loading the defaults file and any persisted values.
// Persisted values take precedence over file seeds.
func Open(opts Options) (*Store, error) {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		bus:          opts.Bus,
		log:          log,
		defaultsPath: strings.TrimSpace(opts.DefaultsPath),
		vars:         map[string]*variable{},
		seeds:        map[string]string{},
		sessions:     map[int32]*printSession{},
	}

	if s.defaultsPath != "" {
		seeds, err := loadDefaults(s.defaultsPath)
		if err != nil {
			return nil, fmt.Errorf("varstore: defaults file: %w", err)
		}
		for k, v := range seeds {
			s.seeds[k] = v
		}
	}

	if strings.TrimSpace(opts.Persist.Path) != "" {
		db, err := openValueDB(opts.Persist, log)
		if err != nil {
			return nil, err
		}
		saved, err := db.load()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		for k, v := range saved {
			s.seeds[k] = v
		}
		s.db = db
	}

	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Register creates a variable. Registering the same name twice with the same
// definition is a no-op so pre-created variables are tolerated.
func (s *Store) Register(def Def) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("varstore: empty variable name")
	}
	if def.Type == TypeString && def.MaxLen <= 0 {
		def.MaxLen = DefaultStringLen
	}

	s.mu.Lock()
	if prev, ok := s.vars[def.Name]; ok {
		same := prev.def == def
		s.mu.Unlock()
		if same {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, def.Name)
	}
	v := &variable{def: def}
	s.vars[def.Name] = v
	seed, seeded := s.seeds[def.Name]
	s.mu.Unlock()

	// Apply a seed value through the normal write path, minus notification:
	// registration precedes the dispatcher loop, so nobody is listening yet.
	if seeded && def.Flags&FlagTrigger == 0 {
		if err := s.setText(def.Name, seed, false); err != nil {
			s.log.Warn("seed value rejected",
				logx.String("var", def.Name), logx.Err(err))
		}
	}
	return nil
}

// ---- reads ----

func (s *Store) get(name string) (*variable, error) {
	s.mu.RLock()
	v, ok := s.vars[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

func (s *Store) Uint16(name string) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if v.def.Type != TypeUint16 {
		return 0, fmt.Errorf("%w: %s is %s", ErrBadType, name, v.def.Type)
	}
	return uint16(v.num), nil
}

func (s *Store) Uint32(name string) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if v.def.Type != TypeUint32 {
		return 0, fmt.Errorf("%w: %s is %s", ErrBadType, name, v.def.Type)
	}
	return uint32(v.num), nil
}

func (s *Store) String(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if v.def.Type != TypeString {
		return "", fmt.Errorf("%w: %s is %s", ErrBadType, name, v.def.Type)
	}
	return v.str, nil
}

// Lookup renders the current value of name as text.
// This is the lookup function handed to the template renderer.
func (s *Store) Lookup(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	switch v.def.Type {
	case TypeString:
		return v.str, nil
	default:
		return strconv.FormatUint(v.num, 10), nil
	}
}

// ---- writes ----

func (s *Store) SetUint16(name string, val uint16) error {
	return s.setText(name, strconv.FormatUint(uint64(val), 10), true)
}

func (s *Store) SetUint32(name string, val uint32) error {
	return s.setText(name, strconv.FormatUint(uint64(val), 10), true)
}

func (s *Store) SetString(name, val string) error {
	return s.setText(name, val, true)
}

// Set parses text per the variable's type and commits it.
// This is the write path used by the defaults-file watcher.
func (s *Store) Set(name, text string) error {
	return s.setText(name, text, true)
}

func (s *Store) setText(name, text string, notify bool) error {
	s.mu.Lock()
	v, ok := s.vars[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	def := v.def

	var num uint64
	switch def.Type {
	case TypeUint16, TypeUint32:
		bits := 16
		if def.Type == TypeUint32 {
			bits = 32
		}
		n, err := strconv.ParseUint(strings.TrimSpace(text), 10, bits)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("varstore: %s: %w", name, err)
		}
		num = n
	case TypeString:
		if len(text) > def.MaxLen {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s (%d > %d)", ErrTooLong, name, len(text), def.MaxLen)
		}
	}

	trigger := def.Flags&FlagTrigger != 0
	changed := true
	if !trigger {
		switch def.Type {
		case TypeString:
			changed = v.str != text
			v.str = text
		default:
			changed = v.num != num
			v.num = num
		}
	}
	s.mu.Unlock()

	// Plain variables skip redundant notifications; triggers never do.
	if !changed && !trigger {
		return nil
	}

	if s.db != nil && !trigger && def.Flags&FlagVolatile == 0 {
		if err := s.db.put(name, text); err != nil {
			s.log.Warn("value persist failed", logx.String("var", name), logx.Err(err))
		}
	}

	if notify && def.Notify == NotifyModified && s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventModified, Data: Modified{Key: name}})
	}
	return nil
}

// ---- print sessions ----

// RequestPrint opens a print session against a NotifyPrint variable and
// publishes the request. The returned channel yields the rendered response
// once the handler closes the session.
func (s *Store) RequestPrint(name string) (int32, <-chan string, error) {
	v, err := s.get(name)
	if err != nil {
		return 0, nil, err
	}
	if v.def.Notify != NotifyPrint {
		return 0, nil, fmt.Errorf("varstore: %s is not a print variable", name)
	}

	s.sessMu.Lock()
	s.sessSeq++
	id := s.sessSeq
	sess := &printSession{key: name, ch: make(chan string, 1)}
	s.sessions[id] = sess
	s.sessMu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventPrint, Data: PrintRequest{Key: name, ID: id}})
	}
	return id, sess.ch, nil
}

// Respond appends text to an open print session.
func (s *Store) Respond(id int32, text string) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadSession, id)
	}
	sess.buf.WriteString(text)
	return nil
}

// ClosePrint completes a print session, delivering whatever was written.
// Closing an unknown session is an error; closing twice is not possible.
func (s *Store) ClosePrint(id int32) error {
	s.sessMu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.sessMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadSession, id)
	}
	sess.ch <- sess.buf.String()
	close(sess.ch)
	return nil
}
