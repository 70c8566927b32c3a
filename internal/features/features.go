package features

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Flag names.
const (
	// PlanCache serves repeated plan requests from the plan cache.
	PlanCache = "plan_cache"
	// EventHooks delivers offer and plan events to subscribers.
	EventHooks = "event_hooks"
	// BackgroundExtraction runs extraction asynchronously after an offer is
	// created or refreshed instead of leaving it in processing.
	BackgroundExtraction = "background_extraction"
	// ScheduledBackups lets the scheduler write periodic database backups.
	ScheduledBackups = "scheduled_backups"
)

// Flag is the state of one feature flag.
type Flag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// ChangeFunc is called after a flag is toggled.
type ChangeFunc func(name string, enabled bool)

// Manager holds runtime-toggleable feature flags.
type Manager struct {
	mu        sync.RWMutex
	flags     map[string]*Flag
	listeners []ChangeFunc
	logger    *zap.Logger
}

// NewManager creates a manager with every known flag registered. overrides
// maps flag names to their configured state; unknown names are ignored.
func NewManager(overrides map[string]bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		flags:  make(map[string]*Flag),
		logger: logger,
	}
	m.Register(PlanCache, true, "Serve repeated plan requests from cache")
	m.Register(EventHooks, true, "Publish offer and plan events")
	m.Register(BackgroundExtraction, true, "Extract offer details in the background")
	m.Register(ScheduledBackups, false, "Write periodic database backups")

	for name, enabled := range overrides {
		if f, ok := m.flags[name]; ok {
			f.Enabled = enabled
		} else {
			logger.Warn("ignoring unknown feature flag", zap.String("flag", name))
		}
	}
	return m
}

// Register adds or replaces a flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &Flag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// OnChange registers fn to run after every successful toggle.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// IsEnabled reports the flag state. Unknown flags are disabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}
	return flag.Enabled
}

// Set toggles a flag. It returns false if the flag is unknown.
func (m *Manager) Set(name string, enabled bool) bool {
	m.mu.Lock()
	flag, exists := m.flags[name]
	if !exists {
		m.mu.Unlock()
		return false
	}
	changed := flag.Enabled != enabled
	flag.Enabled = enabled
	listeners := append([]ChangeFunc(nil), m.listeners...)
	m.mu.Unlock()

	if changed {
		m.logger.Info("feature flag changed", zap.String("flag", name), zap.Bool("enabled", enabled))
		for _, fn := range listeners {
			fn(name, enabled)
		}
	}
	return true
}

// Enable enables a flag.
func (m *Manager) Enable(name string) bool {
	return m.Set(name, true)
}

// Disable disables a flag.
func (m *Manager) Disable(name string) bool {
	return m.Set(name, false)
}

// All returns a copy of every flag sorted by name.
func (m *Manager) All() []Flag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Flag, 0, len(m.flags))
	for _, v := range m.flags {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
