package backend

import (
	"fmt"
	"sync"

	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
)

// Manager owns the process-wide backend handle and supports switching it at
// runtime. Jobs already submitted keep their recorded backend_type; only new
// submissions go to the new backend.
type Manager struct {
	mu      sync.RWMutex
	cfg     *config.Config
	deps    Deps
	current Backend
}

// NewManager builds the backend selected by the configuration
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	b, err := New(cfg, deps)
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, deps: deps, current: b}, nil
}

// Current returns the active backend
func (m *Manager) Current() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Switch rebuilds the backend for the requested type and swaps it in
func (m *Manager) Switch(backendType string) error {
	switch backendType {
	case config.BackendLocal, config.BackendRemoteDocker, config.BackendSLURM:
	default:
		return fmt.Errorf("unknown backend type %q", backendType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if string(m.current.Type()) == backendType {
		return nil
	}

	prev := m.cfg.BackendType
	m.cfg.BackendType = backendType
	if err := m.cfg.Validate(); err != nil {
		m.cfg.BackendType = prev
		return err
	}
	b, err := New(m.cfg, m.deps)
	if err != nil {
		m.cfg.BackendType = prev
		return err
	}
	m.current = b

	log.WithBackend(backendType).Info().
		Str("from", prev).
		Msg("backend switched")
	if m.deps.Audit != nil {
		m.deps.Audit.Record("backend_switched", map[string]any{
			"from": prev,
			"to":   backendType,
		})
	}
	return nil
}
