// Package driver abstracts UI-level automation against the outreach target
// service. The orchestrator only sees this interface; the rod implementation
// lives in rod.go.
package driver

import (
	"context"
	"errors"

	"github.com/minutely/outreach/domain"
)

// ErrNotAuthenticated is returned by driver operations that require a live
// authenticated session when none exists or the session has expired.
var ErrNotAuthenticated = errors.New("driver not authenticated")

// ActionKind identifies the outreach action a driver performs.
type ActionKind string

const (
	ActionConnectionNote ActionKind = "connection_note"
	ActionFirstMessage   ActionKind = "first_message"
	ActionFollowUp       ActionKind = "follow_up"
)

// Action is one outreach action to perform against a contact's profile.
type Action struct {
	Kind           ActionKind
	Content        string
	AttachmentPath string
}

// OutcomeStatus classifies the result of a driver action.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeRisk    OutcomeStatus = "risk"
	OutcomeError   OutcomeStatus = "error"
)

// ActionOutcome reports what happened when performing an action.
// AlreadyConnected and AlreadyPending are observations made on the way: the
// target's profile showed a state that makes the action redundant.
type ActionOutcome struct {
	Status           OutcomeStatus
	AlreadyConnected bool
	AlreadyPending   bool
	// Permanent marks an error that retrying will not fix, e.g. the
	// profile no longer exists.
	Permanent bool
	Detail    string
}

// Observation is a pure read of a contact's relationship state.
type Observation struct {
	Accepted bool
	Replied  bool
	Risk     bool
	Detail   string
}

// Credentials holds the authentication material for the target service.
type Credentials struct {
	Email    string
	Password string
}

// AuthStatus is the result class of an authentication attempt.
type AuthStatus string

const (
	AuthConnected            AuthStatus = "connected"
	AuthVerificationRequired AuthStatus = "verification_required"
	AuthFailed               AuthStatus = "failed"
)

// AuthOutcome reports the result of Authenticate or SubmitSecondFactor.
type AuthOutcome struct {
	Status AuthStatus
	Detail string
}

// Driver performs UI-level automation. Implementations own a single stateful
// browser session; callers must serialize access (the session manager and
// job runner do).
type Driver interface {
	// PerformAction executes one outreach action against the contact's
	// profile.
	PerformAction(ctx context.Context, contact *domain.Contact, action Action) (ActionOutcome, error)

	// Observe reads acceptance/reply state without sending anything.
	Observe(ctx context.Context, contact *domain.Contact) (Observation, error)

	// ListConnections scrapes the account's existing connections.
	ListConnections(ctx context.Context) ([]domain.Contact, error)

	// Authenticate starts a session with the given credentials, reusing
	// persisted cookie material when still valid.
	Authenticate(ctx context.Context, creds Credentials) (AuthOutcome, error)

	// SubmitSecondFactor completes a pending verification challenge.
	SubmitSecondFactor(ctx context.Context, code string) (AuthOutcome, error)

	// Ready reports whether an authenticated session is live. Never
	// blocks on browser I/O.
	Ready() bool

	// Close tears down the browser session. DropCredentials also removes
	// persisted cookie material.
	Close() error
	DropCredentials() error
}
