package config

import (
	"sync"
	"time"
)

// ConfigObserver receives the new config after every successful hot reload.
// The runner implements this to push updates into the pipeline components.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// LiveConfig holds the running config and fans out validated updates to
// registered observers. Reads return clones, so callers can keep a snapshot
// without racing later updates.
type LiveConfig struct {
	mu          sync.RWMutex
	current     *Config
	observers   []ConfigObserver
	lastUpdated time.Time
}

func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		current:     initial.Clone(),
		lastUpdated: time.Now(),
	}
}

// Get returns a snapshot of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.current.Clone()
}

// Update validates and installs a new config, then notifies observers.
// Invalid configs are rejected and the running config stays untouched.
func (lc *LiveConfig) Update(next *Config) error {
	if next == nil {
		return nil
	}
	if result := next.Validate(); !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	installed := next.Clone()
	lc.mu.Lock()
	lc.current = installed
	lc.lastUpdated = time.Now()
	observers := append([]ConfigObserver(nil), lc.observers...)
	lc.mu.Unlock()

	// Notify outside the lock; observers may call back into Get. Each
	// observer gets its own clone so none can mutate another's view.
	for _, obs := range observers {
		obs.OnConfigUpdate(installed.Clone())
	}
	return nil
}

// AddObserver registers an observer for future updates.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.observers = append(lc.observers, obs)
}

// LastUpdated reports when the config last changed.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError carries the field errors from a rejected update.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
