package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"TransitWatch/internal/domain/models"
	applogger "TransitWatch/pkg/logger"
)

type rulesFile struct {
	Rules map[string]models.AlertRule `yaml:"rules"`
}

// LoadRulesFile reads alert rules from YAML and overlays them on base.
// Event types absent from the file keep their base rule.
func LoadRulesFile(path string, base map[models.EventType]models.AlertRule) (map[models.EventType]models.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data, base)
}

// ParseRules decodes and validates rule YAML.
func ParseRules(data []byte, base map[models.EventType]models.AlertRule) (map[models.EventType]models.AlertRule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	out := make(map[models.EventType]models.AlertRule, len(base)+len(f.Rules))
	for k, v := range base {
		out[k] = v
	}
	for name, r := range f.Rules {
		t := models.EventType(name)
		if !models.IsValidEventType(t) {
			return nil, models.NewValidationError("rules", "unknown event type %q", name)
		}
		if !r.Priority.IsValid() {
			return nil, models.NewValidationError("rules."+name+".priority", "unknown priority %q", r.Priority)
		}
		if r.MinIntensity < 0 || r.MinIntensity > 100 {
			return nil, models.NewValidationError("rules."+name+".min_intensity", "must be within [0,100], got %v", r.MinIntensity)
		}
		out[t] = r
	}
	return out, nil
}

// RulesWatcher reloads the rules file on change and hands the result to
// apply. A file that fails to parse is logged and the previous rules stay.
type RulesWatcher struct {
	path  string
	base  map[models.EventType]models.AlertRule
	apply func(map[models.EventType]models.AlertRule)
	l     *applogger.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	once    sync.Once
}

func NewRulesWatcher(path string, base map[models.EventType]models.AlertRule, apply func(map[models.EventType]models.AlertRule), l *applogger.Logger) (*RulesWatcher, error) {
	if path == "" {
		return nil, errors.New("rules path is required")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &RulesWatcher{path: filepath.Clean(path), base: base, apply: apply, l: l, watcher: w}, nil
}

// Start loads the file once and then watches its directory, since editors
// often replace the file instead of writing it in place.
func (w *RulesWatcher) Start(ctx context.Context) error {
	w.reload()
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch rules dir: %w", err)
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.reload()
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				if w.l != nil {
					w.l.Warn("rules watcher error", applogger.Error(err))
				}
			}
		}
	}()
	return nil
}

func (w *RulesWatcher) reload() {
	rules, err := LoadRulesFile(w.path, w.base)
	if err != nil {
		if w.l != nil {
			w.l.Warn("rules reload failed, keeping previous rules",
				applogger.String("path", w.path),
				applogger.Error(err),
			)
		}
		return
	}
	w.apply(rules)
	if w.l != nil {
		w.l.Info("alert rules loaded", applogger.String("path", w.path), applogger.Int("rules", len(rules)))
	}
}

// Close stops watching and waits for the event loop to exit.
func (w *RulesWatcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
