// Package policy holds the stateless decision rules of the outreach
// orchestrator: eligibility timing, inter-action delays, run quotas, and
// risk-signal classification.
package policy

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/minutely/outreach/domain"
)

// Config carries the tunable policy knobs. Passed explicitly so concurrent
// jobs and tests can run with independent policies.
type Config struct {
	// DailyLimit caps outreach actions per run.
	DailyLimit int
	// MinDelay/MaxDelay bound the random inter-action delay.
	MinDelay time.Duration
	MaxDelay time.Duration
	// Cooldown keeps a contact out of the today batch after being
	// surfaced.
	Cooldown time.Duration
	// FirstMessageWait is the minimum time between connection acceptance
	// and the first message.
	FirstMessageWait time.Duration
	// FollowUpWait is the minimum no-reply time before the follow-up.
	FollowUpWait time.Duration
}

// DefaultConfig returns the stock safety limits.
func DefaultConfig() Config {
	return Config{
		DailyLimit:       20,
		MinDelay:         60 * time.Second,
		MaxDelay:         120 * time.Second,
		Cooldown:         60 * 24 * time.Hour,
		FirstMessageWait: 2 * time.Hour,
		FollowUpWait:     3 * 24 * time.Hour,
	}
}

// Engine evaluates policy decisions. Stateless; delay draws use the shared
// rand source, which is safe for concurrent jobs.
type Engine struct {
	cfg Config
}

// NewEngine creates a policy engine.
func NewEngine(cfg Config) *Engine {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultConfig().DailyLimit
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Eligible reports whether the contact's next action may run now. Terminal
// states are never eligible; the remaining states gate on the per-state
// timing thresholds.
func (e *Engine) Eligible(c *domain.Contact, now time.Time) bool {
	switch c.State {
	case domain.ContactStateNew:
		// Cooldown keeps recently surfaced contacts out of the batch.
		return c.LastShownAt == nil || now.Sub(*c.LastShownAt) >= e.cfg.Cooldown
	case domain.ContactStateConnectionRequested:
		// Acceptance checks are cheap observations, always allowed.
		return true
	case domain.ContactStateConnected:
		return c.ConnectedAt != nil && now.Sub(*c.ConnectedAt) >= e.cfg.FirstMessageWait
	case domain.ContactStateFirstMessageSent:
		if c.HasReplied {
			return true
		}
		return c.LastMessagedAt != nil && now.Sub(*c.LastMessagedAt) >= e.cfg.FollowUpWait
	case domain.ContactStateFollowUpSent:
		// Only reply observation remains.
		return true
	default:
		return false
	}
}

// NextDelay draws a uniform delay from the configured interval. Used by the
// job runner between successive contacts, never within a single evaluation.
func (e *Engine) NextDelay() time.Duration {
	if e.cfg.MaxDelay <= e.cfg.MinDelay {
		return e.cfg.MinDelay
	}
	span := e.cfg.MaxDelay - e.cfg.MinDelay
	return e.cfg.MinDelay + rand.N(span+1)
}

// QuotaRemaining returns how many actions the run may still take.
func (e *Engine) QuotaRemaining(runCounter int) int {
	remaining := e.cfg.DailyLimit - runCounter
	if remaining < 0 {
		return 0
	}
	return remaining
}

// riskMarkers are condition substrings that demand a full-run stop.
var riskMarkers = []string{"checkpoint", "challenge", "security", "captcha", "verify your identity", "unusual activity"}

// IsRiskSignal classifies a driver-reported condition as run-aborting.
func IsRiskSignal(condition string) bool {
	lowered := strings.ToLower(condition)
	for _, marker := range riskMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
