//
//  Copyright © Manetu Inc. All rights reserved.
//

package logging

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// defaultModule is the module key that sets the level for every logger without an explicit entry
const defaultModule = "."

// LogManager tracks every logger handed out by GetLogger so that level changes reach them
type LogManager struct {
	loggers  map[string]*Logger
	explicit map[string]bool
	defLevel zapcore.Level
}

var (
	manager *LogManager
	mu      sync.RWMutex
	once    sync.Once
)

func initManager() {
	manager = &LogManager{
		loggers:  make(map[string]*Logger),
		explicit: make(map[string]bool),
		defLevel: zapcore.InfoLevel,
	}
}

// resetForTesting drops all loggers and levels
func resetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	manager = nil
	once = sync.Once{}
}

// GetLogger returns the logger for module, creating it at the current default level
func GetLogger(module string) *Logger {
	once.Do(initManager)

	mu.RLock()
	l := manager.loggers[module]
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()

	if l = manager.loggers[module]; l != nil {
		return l
	}

	l = newLogger(module)
	l.SetLevel(manager.defLevel)
	manager.loggers[module] = l

	return l
}

// parseLevel maps a level name to zap; "trace" is folded into debug
func parseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(s)
	if s == "trace" {
		return zapcore.DebugLevel, nil
	}
	if s == "warning" {
		return zapcore.WarnLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// UpdateLogLevels applies a level specification of the form
//
//	"toolgate.cache:debug;toolgate:warn;.:info"
//
// Whitespace is ignored.  Entries that cannot be parsed are skipped and reported in the returned error, while
// the valid entries are still applied.
func UpdateLogLevels(spec string) error {
	once.Do(initManager)

	spec = strings.Join(strings.Fields(spec), "")

	mu.Lock()
	defer mu.Unlock()

	var bad []string
	for _, entry := range strings.Split(spec, ";") {
		if entry == "" {
			continue
		}

		mod, lvl, ok := strings.Cut(entry, ":")
		if !ok || mod == "" {
			bad = append(bad, entry)
			continue
		}

		level, err := parseLevel(lvl)
		if err != nil {
			bad = append(bad, entry)
			continue
		}

		if mod == defaultModule {
			manager.defLevel = level
			for name, l := range manager.loggers {
				if !manager.explicit[name] {
					l.SetLevel(level)
				}
			}
			continue
		}

		l := manager.loggers[mod]
		if l == nil {
			l = newLogger(mod)
			manager.loggers[mod] = l
		}
		manager.explicit[mod] = true
		l.SetLevel(level)
	}

	if len(bad) > 0 {
		return errors.Errorf("invalid log level entries: %s", strings.Join(bad, ","))
	}
	return nil
}
