package varstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	logx "udpcast/pkg/logx"
)

// loadDefaults reads a YAML mapping of variable name -> scalar value.
// Values are normalized to their text form; typed parsing happens on Set.
func loadDefaults(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = x
		case bool:
			if x {
				out[k] = "1"
			} else {
				out[k] = "0"
			}
		default:
			// ints, floats; nested structures are not valid variable values.
			out[k] = fmt.Sprint(x)
		}
	}
	return out, nil
}

// Watch follows the defaults file and re-applies values on edits. Changed
// values go through the ordinary write path, so subscribers observe them as
// Modified events. Watch returns when ctx is canceled.
func (s *Store) Watch(ctx context.Context) error {
	if s.defaultsPath == "" {
		<-ctx.Done()
		return nil
	}

	dir := filepath.Dir(s.defaultsPath)
	file := filepath.Base(s.defaultsPath)

	// If the watcher breaks (editor rename dances, fd pressure), recreate it
	// with a capped backoff instead of giving up on hot reload.
	const (
		backoffBase = 250 * time.Millisecond
		backoffMax  = 5 * time.Second
	)
	backoff := backoffBase

	// Debounce so editors that write in multiple chunks reload once.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() { s.reapplyDefaults() })
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			s.log.Warn("defaults watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		backoff = backoffBase
		s.log.Debug("defaults watcher started", logx.String("file", s.defaultsPath))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename; editors often replace via rename.
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				s.log.Warn("defaults watch error", logx.Err(err), logx.String("dir", dir))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = w.Close()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (s *Store) reapplyDefaults() {
	seeds, err := loadDefaults(s.defaultsPath)
	if err != nil {
		s.log.Warn("defaults reload failed",
			logx.String("path", s.defaultsPath), logx.Err(err))
		return
	}
	for name, text := range seeds {
		s.mu.RLock()
		_, known := s.vars[name]
		s.mu.RUnlock()
		if !known {
			s.log.Debug("defaults file names unknown variable", logx.String("var", name))
			continue
		}
		// Set skips unchanged values, so an edit touching one key
		// publishes exactly one Modified event.
		if err := s.Set(name, text); err != nil {
			s.log.Warn("defaults value rejected",
				logx.String("var", name), logx.Err(err))
		}
	}
}
