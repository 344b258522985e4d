// Package session owns the authentication lifecycle of the automation
// driver: disconnected -> connecting -> verification_pending -> connected.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/minutely/outreach/domain"
	"github.com/minutely/outreach/driver"
	"github.com/minutely/outreach/store"
)

var (
	// ErrVerificationPending is returned by Login while a second factor
	// is outstanding; Verify is the only valid operation then.
	ErrVerificationPending = errors.New("verification pending: submit the code instead")
	// ErrNotPending is returned by Verify when no verification is
	// outstanding.
	ErrNotPending = errors.New("no verification pending")
	// ErrAuthInProgress is returned when another authentication attempt
	// is already running.
	ErrAuthInProgress = errors.New("authentication already in progress")
)

// Manager serializes authentication against the shared driver and tracks
// session state. Status reads answer from memory, never from the browser.
type Manager struct {
	store  store.Store
	driver driver.Driver
	log    *zap.Logger

	// authMu serializes login/verify/logout. Status reads use stateMu
	// only, so they never queue behind a slow browser login.
	authMu  sync.Mutex
	stateMu sync.RWMutex
	current domain.Session
}

// NewManager creates a session manager starting disconnected. The
// persisted session row is consulted by Resume so a restart with valid
// cookie material can reconnect.
func NewManager(st store.Store, drv driver.Driver, log *zap.Logger) *Manager {
	return &Manager{
		store:   st,
		driver:  drv,
		log:     log.Named("session"),
		current: domain.Session{Status: domain.SessionDisconnected, UpdatedAt: time.Now().UTC()},
	}
}

func (m *Manager) setState(ctx context.Context, status domain.SessionStatus, reason string) domain.Session {
	sess := domain.Session{Status: status, Reason: reason, UpdatedAt: time.Now().UTC()}
	m.stateMu.Lock()
	m.current = sess
	m.stateMu.Unlock()
	if err := m.store.SaveSession(ctx, &sess); err != nil {
		m.log.Error("failed to persist session state", zap.Error(err))
	}
	m.log.Info("session state changed",
		zap.String("status", string(status)),
		zap.String("reason", reason))
	return sess
}

// Resume attempts a cookie-only reconnect at startup when the previous
// process shut down connected. Never prompts for credentials.
func (m *Manager) Resume(ctx context.Context) {
	prev, err := m.store.GetSession(ctx)
	if err != nil {
		m.log.Error("failed to load persisted session", zap.Error(err))
		return
	}
	if prev == nil || prev.Status != domain.SessionConnected {
		return
	}
	m.log.Info("previous session was connected, trying saved cookies")
	if _, err := m.Login(ctx, driver.Credentials{}); err != nil {
		m.log.Warn("cookie resume failed", zap.Error(err))
	}
}

// Login attempts authentication via the driver. Returns the resulting
// session view: connected, verification_pending, or disconnected with an
// error detail.
func (m *Manager) Login(ctx context.Context, creds driver.Credentials) (domain.Session, error) {
	if m.CheckStatus().Status == domain.SessionVerificationPending {
		return m.CheckStatus(), ErrVerificationPending
	}
	if !m.authMu.TryLock() {
		return m.CheckStatus(), ErrAuthInProgress
	}
	defer m.authMu.Unlock()

	m.setState(ctx, domain.SessionConnecting, "")
	out, err := m.driver.Authenticate(ctx, creds)
	if err != nil {
		return m.setState(ctx, domain.SessionDisconnected, err.Error()),
			fmt.Errorf("authentication failed: %w", err)
	}
	return m.applyAuthOutcome(ctx, out), nil
}

// Verify completes a pending second factor. Only valid from
// verification_pending.
func (m *Manager) Verify(ctx context.Context, code string) (domain.Session, error) {
	if m.CheckStatus().Status != domain.SessionVerificationPending {
		return m.CheckStatus(), ErrNotPending
	}
	if !m.authMu.TryLock() {
		return m.CheckStatus(), ErrAuthInProgress
	}
	defer m.authMu.Unlock()

	out, err := m.driver.SubmitSecondFactor(ctx, code)
	if err != nil {
		return m.setState(ctx, domain.SessionDisconnected, err.Error()),
			fmt.Errorf("verification failed: %w", err)
	}
	return m.applyAuthOutcome(ctx, out), nil
}

func (m *Manager) applyAuthOutcome(ctx context.Context, out driver.AuthOutcome) domain.Session {
	switch out.Status {
	case driver.AuthConnected:
		return m.setState(ctx, domain.SessionConnected, out.Detail)
	case driver.AuthVerificationRequired:
		return m.setState(ctx, domain.SessionVerificationPending, out.Detail)
	default:
		return m.setState(ctx, domain.SessionDisconnected, out.Detail)
	}
}

// CheckStatus returns the current session view from memory. Safe to call
// concurrently with an in-flight login; never touches the browser.
func (m *Manager) CheckStatus() domain.Session {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.current
}

// Ready reports whether the driver session is authenticated.
func (m *Manager) Ready() bool {
	return m.CheckStatus().Status == domain.SessionConnected && m.driver.Ready()
}

// Expire marks the session disconnected after the driver reported an
// expired login mid-run.
func (m *Manager) Expire(ctx context.Context, reason string) {
	m.setState(ctx, domain.SessionDisconnected, reason)
}

// Logout tears down the driver session and persisted credential material.
func (m *Manager) Logout(ctx context.Context) (domain.Session, error) {
	m.authMu.Lock()
	defer m.authMu.Unlock()

	if err := m.driver.DropCredentials(); err != nil {
		m.log.Warn("failed to drop credentials", zap.Error(err))
	}
	if err := m.driver.Close(); err != nil {
		m.log.Warn("driver close failed", zap.Error(err))
	}
	return m.setState(ctx, domain.SessionDisconnected, "logged out"), nil
}
