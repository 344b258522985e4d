package domain

import (
	"fmt"
	"time"
)

// Contact represents one outreach target.
type Contact struct {
	ID             int64        `json:"id"`
	ProfileID      string       `json:"profile_id"`
	ProfileURL     string       `json:"profile_url"`
	FullName       string       `json:"full_name"`
	FirstName      string       `json:"first_name"`
	Title          string       `json:"title,omitempty"`
	Company        string       `json:"company,omitempty"`
	Industry       Industry     `json:"industry"`
	AboutText      string       `json:"about_text,omitempty"`
	ExperienceText string       `json:"experience_text,omitempty"`
	State          ContactState `json:"state"`
	LastShownAt    *time.Time   `json:"last_shown_at,omitempty"`
	LastMessagedAt *time.Time   `json:"last_messaged_at,omitempty"`
	ConnectedAt    *time.Time   `json:"connected_at,omitempty"`
	HasReplied     bool         `json:"has_replied"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Validate checks the contact invariants: state and outreach flags must be
// mutually consistent, and industry must be unset or in the fixed enumeration.
func (c *Contact) Validate() error {
	if c.ProfileID == "" {
		return fmt.Errorf("contact %d: profile_id is required", c.ID)
	}
	if !c.State.Valid() {
		return fmt.Errorf("contact %s: unknown state %q", c.ProfileID, c.State)
	}
	if c.Industry != "" && !c.Industry.Valid() {
		return fmt.Errorf("contact %s: unknown industry %q", c.ProfileID, c.Industry)
	}
	if c.State == ContactStateReplied && !c.HasReplied {
		return fmt.Errorf("contact %s: state replied but has_replied is false", c.ProfileID)
	}
	switch c.State {
	case ContactStateFirstMessageSent, ContactStateFollowUpSent:
		if c.LastMessagedAt == nil {
			return fmt.Errorf("contact %s: state %s but last_messaged_at unset", c.ProfileID, c.State)
		}
	}
	return nil
}

// Message records one outreach action sent to a contact. Immutable once
// created, except that a later-observed reply is recorded on the contact.
type Message struct {
	MessageID     string        `json:"message_id"`
	ContactID     int64         `json:"contact_id"`
	Kind          MessageKind   `json:"kind"`
	Content       string        `json:"content"`
	HasAttachment bool          `json:"has_attachment"`
	Status        MessageStatus `json:"status"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	SentAt        *time.Time    `json:"sent_at,omitempty"`
}

// Job is an asynchronous, pollable batch execution unit.
type Job struct {
	JobID     string     `json:"job_id"`
	Kind      JobKind    `json:"kind"`
	Status    JobStatus  `json:"status"`
	Progress  int        `json:"progress"`
	Total     int        `json:"total"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Session describes the automation driver's authentication readiness. A
// single row survives process restarts so saved cookie material can
// short-circuit straight to connected.
type Session struct {
	Status    SessionStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ContactStats is the aggregate view exposed on the contacts surface.
type ContactStats struct {
	Total      int              `json:"total"`
	Connected  int              `json:"connected"`
	Messaged   int              `json:"messaged"`
	Replied    int              `json:"replied"`
	ByIndustry map[Industry]int `json:"by_industry"`
}
