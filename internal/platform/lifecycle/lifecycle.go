// Package lifecycle provides the minimal Start/Stop contract background
// services (the lease expiration sweeper, the metrics materializer
// runner) implement, plus a Manager that starts and stops them in
// registration order / reverse registration order respectively.
package lifecycle

import "context"

// Service is a lifecycle-managed background component. It receives every
// dependency it needs (store handle, clock) as an explicit constructor
// argument; it holds no package-level singleton state.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in
// reverse, collecting the first error encountered on either path.
type Manager struct {
	services []Service
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(s Service) {
	m.services = append(m.services, s)
}

func (m *Manager) Start(ctx context.Context) error {
	for _, s := range m.services {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		if err := m.services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
