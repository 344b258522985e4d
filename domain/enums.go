// Package domain defines the core domain models for the outreach orchestrator.
package domain

// ContactState represents where a contact sits in the outreach sequence.
type ContactState string

const (
	ContactStateNew                 ContactState = "new"
	ContactStateConnectionRequested ContactState = "connection_requested"
	ContactStateConnected           ContactState = "connected"
	ContactStateFirstMessageSent    ContactState = "first_message_sent"
	ContactStateFollowUpSent        ContactState = "follow_up_sent"
	ContactStateReplied             ContactState = "replied"
	ContactStateBlocked             ContactState = "blocked"
)

// transitions is the closed set of legal forward transitions. Any
// non-terminal state may additionally move to replied (reply observed) or
// blocked (unrecoverable driver error); those edges are handled in
// CanTransition rather than listed per state. new -> connected covers the
// driver observing an already-accepted connection on first touch.
var transitions = map[ContactState][]ContactState{
	ContactStateNew:                 {ContactStateConnectionRequested, ContactStateConnected},
	ContactStateConnectionRequested: {ContactStateConnected},
	ContactStateConnected:           {ContactStateFirstMessageSent},
	ContactStateFirstMessageSent:    {ContactStateFollowUpSent},
	ContactStateFollowUpSent:        {},
	ContactStateReplied:             {},
	ContactStateBlocked:             {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to ContactState) bool {
	if from.Terminal() {
		return false
	}
	if to == ContactStateReplied || to == ContactStateBlocked {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends a contact's lifecycle.
func (s ContactState) Terminal() bool {
	return s == ContactStateReplied || s == ContactStateBlocked
}

// Valid reports whether s is a known contact state.
func (s ContactState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Industry is the fixed classification enumeration.
type Industry string

const (
	IndustrySports        Industry = "Sports"
	IndustryNews          Industry = "News"
	IndustryEntertainment Industry = "Entertainment"
	IndustryUnknown       Industry = "Unknown"
)

// Industries lists every valid industry value.
var Industries = []Industry{IndustrySports, IndustryNews, IndustryEntertainment, IndustryUnknown}

// Valid reports whether i is one of the fixed industry values.
func (i Industry) Valid() bool {
	for _, known := range Industries {
		if i == known {
			return true
		}
	}
	return false
}

// MessageKind represents the kind of outreach message sent to a contact.
type MessageKind string

const (
	MessageKindConnectionNote MessageKind = "connection_note"
	MessageKindFirstMessage   MessageKind = "first_message"
	MessageKindFollowUp       MessageKind = "follow_up"
)

// MessageStatus is the delivery outcome of a message.
type MessageStatus string

const (
	MessageStatusQueued MessageStatus = "queued"
	MessageStatusSent   MessageStatus = "sent"
	MessageStatusFailed MessageStatus = "failed"
)

// JobKind represents the kind of a batch job.
type JobKind string

const (
	JobKindSendToday     JobKind = "send_today"
	JobKindSendFollowups JobKind = "send_followups"
	JobKindScrape        JobKind = "scrape_connections"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindSendToday, JobKindSendFollowups, JobKindScrape:
		return true
	}
	return false
}

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the job status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// SessionStatus represents the readiness of the automation driver session.
type SessionStatus string

const (
	SessionDisconnected        SessionStatus = "disconnected"
	SessionConnecting          SessionStatus = "connecting"
	SessionVerificationPending SessionStatus = "verification_pending"
	SessionConnected           SessionStatus = "connected"
)
