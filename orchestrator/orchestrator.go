// Package orchestrator advances contacts through the outreach sequence one
// step at a time. It decides the next action from the contact's state,
// performs it through the driver, and commits the resulting transition and
// message record atomically.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minutely/outreach/classify"
	"github.com/minutely/outreach/domain"
	"github.com/minutely/outreach/driver"
	"github.com/minutely/outreach/policy"
	"github.com/minutely/outreach/store"
)

var (
	// ErrNotEligible means the contact's next step may not run now, either
	// because the state is terminal or a timing threshold has not passed.
	ErrNotEligible = errors.New("contact not eligible for an action now")
	// ErrRiskDetected means the driver hit a security challenge. The
	// caller must stop the whole run.
	ErrRiskDetected = errors.New("risk signal detected")
	// ErrAuthRequired means the driver session expired mid-run.
	ErrAuthRequired = errors.New("authentication required")
)

// Result reports what one Advance call did. Acted is true only when an
// outreach action was sent, which is what counts against the run quota.
type Result struct {
	Contact *domain.Contact
	Message *domain.Message
	Acted   bool
}

// Orchestrator performs one outreach step per call. It is stateless between
// calls; all progress lives in the store.
type Orchestrator struct {
	store          store.Store
	driver         driver.Driver
	classifier     classify.Classifier
	policy         *policy.Engine
	templates      Templates
	attachmentPath string
	log            *zap.Logger
	now            func() time.Time
}

// New creates an orchestrator.
func New(st store.Store, drv driver.Driver, cls classify.Classifier, eng *policy.Engine, tmpl Templates, attachmentPath string, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:          st,
		driver:         drv,
		classifier:     cls,
		policy:         eng,
		templates:      tmpl,
		attachmentPath: attachmentPath,
		log:            log.Named("orchestrator"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test use only.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Advance performs the contact's next outreach step and persists the
// result. Observation-only steps return Acted=false; they never count
// against the quota. Terminal contacts and contacts whose timing threshold
// has not passed return ErrNotEligible.
func (o *Orchestrator) Advance(ctx context.Context, c *domain.Contact) (*Result, error) {
	if c.State.Terminal() {
		return nil, ErrNotEligible
	}
	if !o.policy.Eligible(c, o.now()) {
		return nil, ErrNotEligible
	}

	switch c.State {
	case domain.ContactStateNew:
		return o.sendConnectionNote(ctx, c)
	case domain.ContactStateConnectionRequested:
		return o.observeAcceptance(ctx, c)
	case domain.ContactStateConnected:
		return o.sendFirstMessage(ctx, c)
	case domain.ContactStateFirstMessageSent:
		return o.observeThenFollowUp(ctx, c)
	case domain.ContactStateFollowUpSent:
		return o.observeReply(ctx, c)
	default:
		return nil, fmt.Errorf("contact %s: unhandled state %q", c.ProfileID, c.State)
	}
}

// ListConnections scrapes the account's existing connections through the
// driver, translating driver faults into the sentinel vocabulary.
func (o *Orchestrator) ListConnections(ctx context.Context) ([]domain.Contact, error) {
	contacts, err := o.driver.ListConnections(ctx)
	if err != nil {
		if errors.Is(err, driver.ErrNotAuthenticated) {
			return nil, fmt.Errorf("%w: %v", ErrAuthRequired, err)
		}
		if policy.IsRiskSignal(err.Error()) {
			return nil, fmt.Errorf("%w: %v", ErrRiskDetected, err)
		}
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return contacts, nil
}

// IngestContact upserts a scraped contact. Existing rows keep their state
// and outreach timestamps, except that a scraped connected row promotes a
// pre-connected contact to connected. Display attributes are refreshed.
func (o *Orchestrator) IngestContact(ctx context.Context, c *domain.Contact) (int64, error) {
	if c.State == "" {
		c.State = domain.ContactStateNew
	}
	if err := c.Validate(); err != nil {
		return 0, err
	}
	return o.store.UpsertContact(ctx, c)
}

// transition moves the contact to the next state. Every state write goes
// through here so an illegal transition is caught before anything persists.
func (o *Orchestrator) transition(c *domain.Contact, next domain.ContactState) error {
	if !domain.CanTransition(c.State, next) {
		return fmt.Errorf("contact %s: illegal transition %s -> %s", c.ProfileID, c.State, next)
	}
	c.State = next
	return nil
}

func newMessageID() string {
	return "msg_" + uuid.New().String()[:8]
}

// mapActionError converts driver transport errors into the orchestrator's
// sentinel vocabulary.
func mapActionError(err error) error {
	if errors.Is(err, driver.ErrNotAuthenticated) {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	return fmt.Errorf("driver action failed: %w", err)
}

func (o *Orchestrator) sendConnectionNote(ctx context.Context, c *domain.Contact) (*Result, error) {
	if c.Industry == "" || c.Industry == domain.IndustryUnknown {
		industry, err := o.classifier.Classify(ctx, c)
		if err != nil {
			o.log.Warn("classification failed, using unknown",
				zap.String("profile_id", c.ProfileID), zap.Error(err))
			industry = domain.IndustryUnknown
		}
		c.Industry = industry
	}

	note, err := o.templates.BuildConnectionNote(c)
	if err != nil {
		return nil, err
	}

	out, err := o.driver.PerformAction(ctx, c, driver.Action{Kind: driver.ActionConnectionNote, Content: note})
	if err != nil {
		return nil, mapActionError(err)
	}

	now := o.now()
	c.LastShownAt = &now

	switch {
	case out.Status == driver.OutcomeRisk || policy.IsRiskSignal(out.Detail):
		return nil, fmt.Errorf("%w: %s", ErrRiskDetected, out.Detail)

	case out.AlreadyConnected:
		// The invite was accepted out of band; skip straight to connected.
		if err := o.transition(c, domain.ContactStateConnected); err != nil {
			return nil, err
		}
		c.ConnectedAt = &now
		c.UpdatedAt = now
		if err := o.store.UpdateContact(ctx, c); err != nil {
			return nil, fmt.Errorf("persist contact: %w", err)
		}
		return &Result{Contact: c}, nil

	case out.AlreadyPending:
		if err := o.transition(c, domain.ContactStateConnectionRequested); err != nil {
			return nil, err
		}
		c.UpdatedAt = now
		if err := o.store.UpdateContact(ctx, c); err != nil {
			return nil, fmt.Errorf("persist contact: %w", err)
		}
		return &Result{Contact: c}, nil

	case out.Status == driver.OutcomeError && out.Permanent:
		if err := o.transition(c, domain.ContactStateBlocked); err != nil {
			return nil, err
		}
		c.UpdatedAt = now
		if err := o.store.UpdateContact(ctx, c); err != nil {
			return nil, fmt.Errorf("persist contact: %w", err)
		}
		o.log.Info("contact blocked", zap.String("profile_id", c.ProfileID), zap.String("reason", out.Detail))
		return &Result{Contact: c}, nil

	case out.Status == driver.OutcomeError:
		msg := o.failedMessage(c, domain.MessageKindConnectionNote, note, out.Detail)
		if err := o.store.CreateMessage(ctx, msg); err != nil {
			o.log.Error("record failed message", zap.Error(err))
		}
		return nil, fmt.Errorf("connection note to %s: %s", c.ProfileID, out.Detail)
	}

	msg := o.sentMessage(c, domain.MessageKindConnectionNote, note, false)
	if err := o.transition(c, domain.ContactStateConnectionRequested); err != nil {
		return nil, err
	}
	c.UpdatedAt = now
	if err := o.store.CommitAdvance(ctx, c, msg); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}
	return &Result{Contact: c, Message: msg, Acted: true}, nil
}

func (o *Orchestrator) observeAcceptance(ctx context.Context, c *domain.Contact) (*Result, error) {
	obs, err := o.driver.Observe(ctx, c)
	if err != nil {
		return nil, mapActionError(err)
	}
	if obs.Risk {
		return nil, fmt.Errorf("%w: %s", ErrRiskDetected, obs.Detail)
	}

	now := o.now()
	switch {
	case obs.Replied:
		return o.markReplied(ctx, c, now)
	case obs.Accepted:
		if err := o.transition(c, domain.ContactStateConnected); err != nil {
			return nil, err
		}
		c.ConnectedAt = &now
		c.UpdatedAt = now
		if err := o.store.UpdateContact(ctx, c); err != nil {
			return nil, fmt.Errorf("persist contact: %w", err)
		}
		o.log.Info("connection accepted", zap.String("profile_id", c.ProfileID))
		return &Result{Contact: c}, nil
	default:
		// Still pending, nothing to do.
		return &Result{Contact: c}, nil
	}
}

func (o *Orchestrator) sendFirstMessage(ctx context.Context, c *domain.Contact) (*Result, error) {
	content, err := o.templates.BuildFirstMessage(c)
	if err != nil {
		return nil, err
	}
	return o.sendThreadMessage(ctx, c, driver.ActionFirstMessage, domain.MessageKindFirstMessage, content,
		o.attachmentPath, domain.ContactStateFirstMessageSent)
}

func (o *Orchestrator) observeThenFollowUp(ctx context.Context, c *domain.Contact) (*Result, error) {
	obs, err := o.driver.Observe(ctx, c)
	if err != nil {
		return nil, mapActionError(err)
	}
	if obs.Risk {
		return nil, fmt.Errorf("%w: %s", ErrRiskDetected, obs.Detail)
	}
	if obs.Replied {
		return o.markReplied(ctx, c, o.now())
	}

	content, err := o.templates.BuildFollowUp(c)
	if err != nil {
		return nil, err
	}
	return o.sendThreadMessage(ctx, c, driver.ActionFollowUp, domain.MessageKindFollowUp, content,
		"", domain.ContactStateFollowUpSent)
}

func (o *Orchestrator) observeReply(ctx context.Context, c *domain.Contact) (*Result, error) {
	obs, err := o.driver.Observe(ctx, c)
	if err != nil {
		return nil, mapActionError(err)
	}
	if obs.Risk {
		return nil, fmt.Errorf("%w: %s", ErrRiskDetected, obs.Detail)
	}
	if obs.Replied {
		return o.markReplied(ctx, c, o.now())
	}
	return &Result{Contact: c}, nil
}

// sendThreadMessage performs a message-thread action and commits the state
// transition with the message record.
func (o *Orchestrator) sendThreadMessage(ctx context.Context, c *domain.Contact, kind driver.ActionKind, msgKind domain.MessageKind, content, attachment string, next domain.ContactState) (*Result, error) {
	out, err := o.driver.PerformAction(ctx, c, driver.Action{Kind: kind, Content: content, AttachmentPath: attachment})
	if err != nil {
		return nil, mapActionError(err)
	}

	now := o.now()
	switch {
	case out.Status == driver.OutcomeRisk || policy.IsRiskSignal(out.Detail):
		return nil, fmt.Errorf("%w: %s", ErrRiskDetected, out.Detail)

	case out.Status == driver.OutcomeError && out.Permanent:
		if err := o.transition(c, domain.ContactStateBlocked); err != nil {
			return nil, err
		}
		c.UpdatedAt = now
		if err := o.store.UpdateContact(ctx, c); err != nil {
			return nil, fmt.Errorf("persist contact: %w", err)
		}
		o.log.Info("contact blocked", zap.String("profile_id", c.ProfileID), zap.String("reason", out.Detail))
		return &Result{Contact: c}, nil

	case out.Status == driver.OutcomeError:
		msg := o.failedMessage(c, msgKind, content, out.Detail)
		if err := o.store.CreateMessage(ctx, msg); err != nil {
			o.log.Error("record failed message", zap.Error(err))
		}
		return nil, fmt.Errorf("%s to %s: %s", msgKind, c.ProfileID, out.Detail)
	}

	msg := o.sentMessage(c, msgKind, content, attachment != "")
	if err := o.transition(c, next); err != nil {
		return nil, err
	}
	c.LastMessagedAt = &now
	c.UpdatedAt = now
	if err := o.store.CommitAdvance(ctx, c, msg); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}
	o.log.Info("message sent",
		zap.String("profile_id", c.ProfileID),
		zap.String("kind", string(msgKind)))
	return &Result{Contact: c, Message: msg, Acted: true}, nil
}

func (o *Orchestrator) markReplied(ctx context.Context, c *domain.Contact, now time.Time) (*Result, error) {
	if err := o.transition(c, domain.ContactStateReplied); err != nil {
		return nil, err
	}
	c.HasReplied = true
	c.UpdatedAt = now
	if err := o.store.UpdateContact(ctx, c); err != nil {
		return nil, fmt.Errorf("persist contact: %w", err)
	}
	o.log.Info("contact replied", zap.String("profile_id", c.ProfileID))
	return &Result{Contact: c}, nil
}

func (o *Orchestrator) sentMessage(c *domain.Contact, kind domain.MessageKind, content string, attached bool) *domain.Message {
	now := o.now()
	return &domain.Message{
		MessageID:     newMessageID(),
		ContactID:     c.ID,
		Kind:          kind,
		Content:       content,
		HasAttachment: attached,
		Status:        domain.MessageStatusSent,
		CreatedAt:     now,
		SentAt:        &now,
	}
}

func (o *Orchestrator) failedMessage(c *domain.Contact, kind domain.MessageKind, content, detail string) *domain.Message {
	return &domain.Message{
		MessageID: newMessageID(),
		ContactID: c.ID,
		Kind:      kind,
		Content:   content,
		Status:    domain.MessageStatusFailed,
		Error:     detail,
		CreatedAt: o.now(),
	}
}
