package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/minutely/outreach/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile_id TEXT NOT NULL UNIQUE,
			profile_url TEXT NOT NULL,
			full_name TEXT NOT NULL,
			first_name TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			about_text TEXT NOT NULL DEFAULT '',
			experience_text TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'new',
			last_shown_at DATETIME,
			last_messaged_at DATETIME,
			connected_at DATETIME,
			has_replied INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_state ON contacts(state)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_industry ON contacts(industry)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			contact_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			has_attachment INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'queued',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			sent_at DATETIME,
			FOREIGN KEY (contact_id) REFERENCES contacts(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_kind ON jobs(kind, created_at)`,
		`CREATE TABLE IF NOT EXISTS session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertContact inserts a contact or refreshes an existing one by profile
// ID. An existing row keeps its state and outreach timestamps, with one
// exception: an incoming connected row promotes a pre-connected contact to
// connected, since an invite accepted out of band surfaces through the
// connections scrape. Display attributes refresh when the incoming row has
// them.
func (s *SQLiteStore) UpsertContact(ctx context.Context, c *domain.Contact) (int64, error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.State == "" {
		c.State = domain.ContactStateNew
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (profile_id, profile_url, full_name, first_name, title, company, industry,
			about_text, experience_text, state, connected_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			profile_url=excluded.profile_url,
			full_name=excluded.full_name,
			first_name=excluded.first_name,
			title=CASE WHEN excluded.title != '' THEN excluded.title ELSE contacts.title END,
			company=CASE WHEN excluded.company != '' THEN excluded.company ELSE contacts.company END,
			about_text=CASE WHEN excluded.about_text != '' THEN excluded.about_text ELSE contacts.about_text END,
			experience_text=CASE WHEN excluded.experience_text != '' THEN excluded.experience_text ELSE contacts.experience_text END,
			state=CASE WHEN excluded.state = 'connected'
					AND contacts.state IN ('new', 'connection_requested')
				THEN 'connected' ELSE contacts.state END,
			connected_at=CASE WHEN excluded.state = 'connected'
					AND contacts.state IN ('new', 'connection_requested')
				THEN COALESCE(excluded.connected_at, excluded.updated_at)
				ELSE contacts.connected_at END,
			updated_at=excluded.updated_at`,
		c.ProfileID, c.ProfileURL, c.FullName, c.FirstName, c.Title, c.Company, string(c.Industry),
		c.AboutText, c.ExperienceText, string(c.State), c.ConnectedAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert contact: %w", err)
	}
	// last_insert_rowid is stale on the conflict-update path, so resolve
	// the id by lookup.
	var id int64
	row := s.db.QueryRowContext(ctx, `SELECT id FROM contacts WHERE profile_id = ?`, c.ProfileID)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to resolve contact id: %w", err)
	}
	c.ID = id
	return id, nil
}

const contactColumns = `id, profile_id, profile_url, full_name, first_name, title, company, industry,
	about_text, experience_text, state, last_shown_at, last_messaged_at, connected_at, has_replied,
	created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*domain.Contact, error) {
	var c domain.Contact
	var lastShown, lastMessaged, connected sql.NullTime
	err := row.Scan(&c.ID, &c.ProfileID, &c.ProfileURL, &c.FullName, &c.FirstName, &c.Title,
		&c.Company, &c.Industry, &c.AboutText, &c.ExperienceText, &c.State,
		&lastShown, &lastMessaged, &connected, &c.HasReplied, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastShown.Valid {
		c.LastShownAt = &lastShown.Time
	}
	if lastMessaged.Valid {
		c.LastMessagedAt = &lastMessaged.Time
	}
	if connected.Valid {
		c.ConnectedAt = &connected.Time
	}
	return &c, nil
}

// GetContact retrieves a contact by ID. Returns nil, nil when absent.
func (s *SQLiteStore) GetContact(ctx context.Context, id int64) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// GetContactByProfileID retrieves a contact by its stable external ID.
func (s *SQLiteStore) GetContactByProfileID(ctx context.Context, profileID string) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE profile_id = ?`, profileID)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// UpdateContact persists all mutable contact fields.
func (s *SQLiteStore) UpdateContact(ctx context.Context, c *domain.Contact) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET full_name=?, first_name=?, title=?, company=?, industry=?,
			about_text=?, experience_text=?, state=?, last_shown_at=?, last_messaged_at=?,
			connected_at=?, has_replied=?, updated_at=? WHERE id=?`,
		c.FullName, c.FirstName, c.Title, c.Company, string(c.Industry),
		c.AboutText, c.ExperienceText, string(c.State), c.LastShownAt, c.LastMessagedAt,
		c.ConnectedAt, c.HasReplied, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}

// ListContacts returns contacts matching the filter, oldest first.
func (s *SQLiteStore) ListContacts(ctx context.Context, filter ContactFilter) ([]domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE 1=1`
	var args []any
	if filter.Industry != "" {
		query += ` AND industry = ?`
		args = append(args, string(filter.Industry))
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.ConnectedOnly {
		query += ` AND state IN ('connected', 'first_message_sent', 'follow_up_sent', 'replied')`
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ContactStats returns the aggregate contact counters.
func (s *SQLiteStore) ContactStats(ctx context.Context) (*domain.ContactStats, error) {
	stats := &domain.ContactStats{ByIndustry: map[domain.Industry]int{}}
	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		SUM(CASE WHEN state IN ('connected', 'first_message_sent', 'follow_up_sent', 'replied') THEN 1 ELSE 0 END),
		SUM(CASE WHEN last_messaged_at IS NOT NULL THEN 1 ELSE 0 END),
		SUM(CASE WHEN has_replied = 1 THEN 1 ELSE 0 END)
		FROM contacts`)
	var connected, messaged, replied sql.NullInt64
	if err := row.Scan(&stats.Total, &connected, &messaged, &replied); err != nil {
		return nil, fmt.Errorf("failed to aggregate contacts: %w", err)
	}
	stats.Connected = int(connected.Int64)
	stats.Messaged = int(messaged.Int64)
	stats.Replied = int(replied.Int64)

	rows, err := s.db.QueryContext(ctx, `SELECT industry, COUNT(*) FROM contacts WHERE industry != '' GROUP BY industry`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate industries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var industry string
		var count int
		if err := rows.Scan(&industry, &count); err != nil {
			return nil, err
		}
		stats.ByIndustry[domain.Industry(industry)] = count
	}
	return stats, rows.Err()
}

// CommitAdvance persists a state transition and its message record in one
// transaction. A nil message means the transition was observation-only.
func (s *SQLiteStore) CommitAdvance(ctx context.Context, c *domain.Contact, m *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE contacts SET industry=?, state=?, last_shown_at=?, last_messaged_at=?,
			connected_at=?, has_replied=?, company=?, updated_at=? WHERE id=?`,
		string(c.Industry), string(c.State), c.LastShownAt, c.LastMessagedAt,
		c.ConnectedAt, c.HasReplied, c.Company, c.UpdatedAt, c.ID); err != nil {
		return fmt.Errorf("failed to commit contact transition: %w", err)
	}
	if m != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (message_id, contact_id, kind, content, has_attachment, status, error, created_at, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.MessageID, m.ContactID, string(m.Kind), m.Content, m.HasAttachment,
			string(m.Status), m.Error, m.CreatedAt, m.SentAt); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

// CreateMessage inserts a message record outside of an advance transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, contact_id, kind, content, has_attachment, status, error, created_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.ContactID, string(m.Kind), m.Content, m.HasAttachment,
		string(m.Status), m.Error, m.CreatedAt, m.SentAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns messages, newest first. contactID 0 and empty kind
// disable the respective filters.
func (s *SQLiteStore) ListMessages(ctx context.Context, contactID int64, kind domain.MessageKind, limit int) ([]domain.Message, error) {
	query := `SELECT message_id, contact_id, kind, content, has_attachment, status, error, created_at, sent_at
		FROM messages WHERE 1=1`
	var args []any
	if contactID != 0 {
		query += ` AND contact_id = ?`
		args = append(args, contactID)
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var sentAt sql.NullTime
		if err := rows.Scan(&m.MessageID, &m.ContactID, &m.Kind, &m.Content, &m.HasAttachment,
			&m.Status, &m.Error, &m.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if sentAt.Valid {
			m.SentAt = &sentAt.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateJob inserts a new job row.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *domain.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, kind, status, progress, total, error, created_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, string(j.Kind), string(j.Status), j.Progress, j.Total, j.Error,
		j.CreatedAt, j.StartedAt, j.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID. Returns nil, nil when absent.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, kind, status, progress, total, error, created_at, started_at, ended_at
		FROM jobs WHERE job_id = ?`, jobID)
	var j domain.Job
	var startedAt, endedAt sql.NullTime
	err := row.Scan(&j.JobID, &j.Kind, &j.Status, &j.Progress, &j.Total, &j.Error,
		&j.CreatedAt, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		j.EndedAt = &endedAt.Time
	}
	return &j, nil
}

// UpdateJobProgress bumps the progress counter and the total, which is only
// known once the run has selected its candidates.
func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, progress, total int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET progress = ?, total = ? WHERE job_id = ?`, progress, total, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job to a new status; terminal statuses also set
// ended_at, running sets started_at.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	now := time.Now().UTC()
	var err error
	switch {
	case status == domain.JobStatusRunning:
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, started_at = ? WHERE job_id = ?`,
			string(status), now, jobID)
	case status.Terminal():
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, ended_at = ? WHERE job_id = ?`,
			string(status), errMsg, now, jobID)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ? WHERE job_id = ?`,
			string(status), errMsg, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// ReconcileInterrupted fails any job a previous process left unfinished.
func (s *SQLiteStore) ReconcileInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error = 'interrupted', ended_at = ?
		WHERE status IN ('queued', 'running')`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetSession returns the persisted session row. Returns nil, nil when the
// process has never connected.
func (s *SQLiteStore) GetSession(ctx context.Context) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status, reason, updated_at FROM session WHERE id = 1`)
	var sess domain.Session
	err := row.Scan(&sess.Status, &sess.Reason, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}

// SaveSession upserts the single session row.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, status, reason, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, reason=excluded.reason, updated_at=excluded.updated_at`,
		string(sess.Status), sess.Reason, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
