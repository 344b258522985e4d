// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/minutely/outreach/domain"
)

// ContactFilter provides filtering options for contact listings.
type ContactFilter struct {
	Industry      domain.Industry
	State         domain.ContactState
	ConnectedOnly bool
	Limit         int
	Offset        int
}

// Store defines the interface for data persistence. A single CommitAdvance
// call is atomic: the contact mutation and the message insert land together
// or not at all.
type Store interface {
	// Contact operations
	UpsertContact(ctx context.Context, contact *domain.Contact) (int64, error)
	GetContact(ctx context.Context, id int64) (*domain.Contact, error)
	GetContactByProfileID(ctx context.Context, profileID string) (*domain.Contact, error)
	UpdateContact(ctx context.Context, contact *domain.Contact) error
	ListContacts(ctx context.Context, filter ContactFilter) ([]domain.Contact, error)
	ContactStats(ctx context.Context) (*domain.ContactStats, error)

	// CommitAdvance persists a contact state transition and, when the
	// transition sent something, the message record, in one transaction.
	CommitAdvance(ctx context.Context, contact *domain.Contact, message *domain.Message) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, contactID int64, kind domain.MessageKind, limit int) ([]domain.Message, error)

	// Job operations
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJobProgress(ctx context.Context, jobID string, progress, total int) error
	UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error
	// ReconcileInterrupted marks jobs left queued/running by a previous
	// process as failed with reason "interrupted". Returns how many rows
	// were reconciled.
	ReconcileInterrupted(ctx context.Context) (int, error)

	// Session operations
	GetSession(ctx context.Context) (*domain.Session, error)
	SaveSession(ctx context.Context, session *domain.Session) error

	// Lifecycle
	Close() error
}
