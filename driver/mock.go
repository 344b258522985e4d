package driver

import (
	"context"
	"sync"

	"github.com/minutely/outreach/domain"
)

// MockDriver is a scriptable in-memory implementation of Driver for testing.
// Outcomes are keyed by contact profile ID; unscripted calls succeed.
type MockDriver struct {
	mu sync.Mutex

	Connected      bool
	AuthOutcome    AuthOutcome
	VerifyOutcome  AuthOutcome
	Outcomes       map[string]ActionOutcome
	Observations   map[string]Observation
	Connections    []domain.Contact
	ConnectionsErr error

	// Recorded calls, in order.
	Actions []Action
}

// NewMockDriver creates a mock driver that starts authenticated.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		Connected:     true,
		AuthOutcome:   AuthOutcome{Status: AuthConnected},
		VerifyOutcome: AuthOutcome{Status: AuthConnected},
		Outcomes:      map[string]ActionOutcome{},
		Observations:  map[string]Observation{},
	}
}

// Ensure MockDriver implements the Driver interface.
var _ Driver = (*MockDriver)(nil)

func (m *MockDriver) PerformAction(ctx context.Context, c *domain.Contact, action Action) (ActionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Actions = append(m.Actions, action)
	if out, ok := m.Outcomes[c.ProfileID]; ok {
		return out, nil
	}
	return ActionOutcome{Status: OutcomeSuccess}, nil
}

func (m *MockDriver) Observe(ctx context.Context, c *domain.Contact) (Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Observations[c.ProfileID], nil
}

func (m *MockDriver) ListConnections(ctx context.Context) ([]domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connections, m.ConnectionsErr
}

func (m *MockDriver) Authenticate(ctx context.Context, creds Credentials) (AuthOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AuthOutcome.Status == AuthConnected {
		m.Connected = true
	}
	return m.AuthOutcome, nil
}

func (m *MockDriver) SubmitSecondFactor(ctx context.Context, code string) (AuthOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.VerifyOutcome.Status == AuthConnected {
		m.Connected = true
	}
	return m.VerifyOutcome, nil
}

func (m *MockDriver) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connected
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connected = false
	return nil
}

func (m *MockDriver) DropCredentials() error { return nil }

// ActionCount returns how many actions were performed.
func (m *MockDriver) ActionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Actions)
}
