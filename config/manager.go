package config

import (
	"sync"

	"pulse.dev/rtcore/common"
)

// ReloadFunc is a subscriber's chance to accept or refuse a reloaded
// Config. Returning an error refuses the reload for that subscriber only;
// its previous configuration stays in force while every other subscriber
// that accepted moves forward.
type ReloadFunc func(next *Config) error

// Manager owns the current Config and notifies subscribers on reload.
type Manager struct {
	mu          sync.RWMutex
	current     *Config
	path        string
	envPrefix   string
	subscribers map[string]ReloadFunc
	log         *common.ContextLogger
}

// NewManager loads the initial configuration and returns a Manager around
// it. path may be empty to load from defaults and environment only.
func NewManager(path, envPrefix string) (*Manager, error) {
	cfg, err := Load(path, envPrefix)
	if err != nil {
		return nil, err
	}
	return &Manager{
		current:     cfg,
		path:        path,
		envPrefix:   envPrefix,
		subscribers: make(map[string]ReloadFunc),
		log:         common.ComponentLogger(common.Logger, "config"),
	}, nil
}

// Current returns the active configuration. Callers must not mutate the
// returned value.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers component's reload handler. Component names must be
// unique; a second Subscribe for the same name replaces the first.
func (m *Manager) Subscribe(component string, fn ReloadFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[component] = fn
}

// Unsubscribe removes component's reload handler.
func (m *Manager) Unsubscribe(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, component)
}

// Reload re-reads the layered configuration, validates it, and offers it to
// every subscriber. A subscriber that refuses keeps operating on the prior
// Config; Manager.Current() still advances to the new value for everyone
// else. Reload itself fails only if the new configuration does not even
// parse/validate, in which case nothing changes.
func (m *Manager) Reload() error {
	next, err := Load(m.path, m.envPrefix)
	if err != nil {
		m.log.WithError(err).Warn("reload rejected: invalid configuration")
		return err
	}

	m.mu.Lock()
	m.current = next
	subs := make(map[string]ReloadFunc, len(m.subscribers))
	for k, v := range m.subscribers {
		subs[k] = v
	}
	m.mu.Unlock()

	for component, fn := range subs {
		if err := fn(next); err != nil {
			m.log.WithField("component", component).WithError(err).Warn("subscriber refused reload")
		}
	}
	return nil
}

// Set applies a runtime override on top of the current configuration,
// re-validates, and notifies subscribers exactly like Reload. mutate should
// modify the copy it is given and return it (or an unrelated error to abort
// without applying anything).
func (m *Manager) Set(mutate func(c Config) (Config, error)) error {
	m.mu.RLock()
	base := *m.current
	m.mu.RUnlock()

	updated, err := mutate(base)
	if err != nil {
		return err
	}
	if err := validate(&updated); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = &updated
	subs := make(map[string]ReloadFunc, len(m.subscribers))
	for k, v := range m.subscribers {
		subs[k] = v
	}
	m.mu.Unlock()

	for component, fn := range subs {
		if err := fn(&updated); err != nil {
			m.log.WithField("component", component).WithError(err).Warn("subscriber refused override")
		}
	}
	return nil
}
