package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minutely/outreach/domain"
	"github.com/minutely/outreach/store"
	"github.com/minutely/outreach/tests/helpers"
)

func seedContact(t *testing.T, s *store.SQLiteStore, profileID string, state domain.ContactState) *domain.Contact {
	t.Helper()
	c := &domain.Contact{
		ProfileID:  profileID,
		ProfileURL: "https://example.com/in/" + profileID,
		FullName:   "Test " + profileID,
		FirstName:  "Test",
		State:      state,
	}
	_, err := s.UpsertContact(context.Background(), c)
	require.NoError(t, err)
	return c
}

func TestUpsertContactInsertAndRefresh(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	c := &domain.Contact{
		ProfileID:  "jane-doe",
		ProfileURL: "https://example.com/in/jane-doe",
		FullName:   "Jane Doe",
		FirstName:  "Jane",
		Title:      "Editor",
	}
	id, err := s.UpsertContact(ctx, c)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	// Move the contact forward, then upsert the same profile again.
	got, err := s.GetContact(ctx, id)
	require.NoError(t, err)
	got.State = domain.ContactStateConnectionRequested
	require.NoError(t, s.UpdateContact(ctx, got))

	again := &domain.Contact{
		ProfileID:  "jane-doe",
		ProfileURL: "https://example.com/in/jane-doe-2",
		FullName:   "Jane A. Doe",
		FirstName:  "Jane",
	}
	id2, err := s.UpsertContact(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	got, err = s.GetContact(ctx, id)
	require.NoError(t, err)
	// Display attributes refresh, outreach state survives.
	assert.Equal(t, "Jane A. Doe", got.FullName)
	assert.Equal(t, "Editor", got.Title)
	assert.Equal(t, domain.ContactStateConnectionRequested, got.State)
}

func TestUpsertContactPromotesOnScrapedConnection(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	c := seedContact(t, s, "jane-doe", domain.ContactStateConnectionRequested)

	// An invite accepted out of band shows up as a connected row in the
	// connections scrape.
	now := time.Now().UTC()
	scraped := &domain.Contact{
		ProfileID:   "jane-doe",
		ProfileURL:  "https://example.com/in/jane-doe",
		FullName:    "Jane Doe",
		FirstName:   "Jane",
		State:       domain.ContactStateConnected,
		ConnectedAt: &now,
	}
	id, err := s.UpsertContact(ctx, scraped)
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	got, err := s.GetContact(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ContactStateConnected, got.State)
	require.NotNil(t, got.ConnectedAt)
}

func TestUpsertContactKeepsPostConnectedState(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	c := seedContact(t, s, "jane-doe", domain.ContactStateNew)
	now := time.Now().UTC()
	c.State = domain.ContactStateFirstMessageSent
	c.ConnectedAt = &now
	c.LastMessagedAt = &now
	require.NoError(t, s.UpdateContact(ctx, c))

	scraped := &domain.Contact{
		ProfileID:   "jane-doe",
		FullName:    "Jane Doe",
		State:       domain.ContactStateConnected,
		ConnectedAt: &now,
	}
	_, err := s.UpsertContact(ctx, scraped)
	require.NoError(t, err)

	got, err := s.GetContact(ctx, c.ID)
	require.NoError(t, err)
	// A scraped connected row must not rewind messaging progress.
	assert.Equal(t, domain.ContactStateFirstMessageSent, got.State)
}

func TestGetContactAbsent(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	c, err := s.GetContact(context.Background(), 999)
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestGetContactByProfileID(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)
	seedContact(t, s, "john-roe", domain.ContactStateNew)

	c, err := s.GetContactByProfileID(ctx, "john-roe")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "john-roe", c.ProfileID)
}

func TestListContactsFilters(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	a := seedContact(t, s, "a", domain.ContactStateNew)
	a.Industry = domain.IndustrySports
	require.NoError(t, s.UpdateContact(ctx, a))

	b := seedContact(t, s, "b", domain.ContactStateNew)
	b.State = domain.ContactStateConnected
	now := time.Now().UTC()
	b.ConnectedAt = &now
	require.NoError(t, s.UpdateContact(ctx, b))

	seedContact(t, s, "c", domain.ContactStateNew)

	byState, err := s.ListContacts(ctx, store.ContactFilter{State: domain.ContactStateConnected})
	require.NoError(t, err)
	require.Len(t, byState, 1)
	assert.Equal(t, "b", byState[0].ProfileID)

	byIndustry, err := s.ListContacts(ctx, store.ContactFilter{Industry: domain.IndustrySports})
	require.NoError(t, err)
	require.Len(t, byIndustry, 1)
	assert.Equal(t, "a", byIndustry[0].ProfileID)

	connected, err := s.ListContacts(ctx, store.ContactFilter{ConnectedOnly: true})
	require.NoError(t, err)
	require.Len(t, connected, 1)

	limited, err := s.ListContacts(ctx, store.ContactFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestContactStats(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	a := seedContact(t, s, "a", domain.ContactStateNew)
	a.Industry = domain.IndustryNews
	require.NoError(t, s.UpdateContact(ctx, a))

	now := time.Now().UTC()
	b := seedContact(t, s, "b", domain.ContactStateNew)
	b.State = domain.ContactStateReplied
	b.HasReplied = true
	b.LastMessagedAt = &now
	b.Industry = domain.IndustryNews
	require.NoError(t, s.UpdateContact(ctx, b))

	stats, err := s.ContactStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Connected)
	assert.Equal(t, 1, stats.Messaged)
	assert.Equal(t, 1, stats.Replied)
	assert.Equal(t, 2, stats.ByIndustry[domain.IndustryNews])
}

func TestCommitAdvancePersistsBoth(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)
	c := seedContact(t, s, "jane", domain.ContactStateNew)

	now := time.Now().UTC()
	c.State = domain.ContactStateConnectionRequested
	c.LastShownAt = &now
	msg := &domain.Message{
		MessageID: "msg_test1",
		ContactID: c.ID,
		Kind:      domain.MessageKindConnectionNote,
		Content:   "Hi Jane",
		Status:    domain.MessageStatusSent,
		CreatedAt: now,
		SentAt:    &now,
	}
	require.NoError(t, s.CommitAdvance(ctx, c, msg))

	got, err := s.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContactStateConnectionRequested, got.State)
	require.NotNil(t, got.LastShownAt)

	msgs, err := s.ListMessages(ctx, c.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg_test1", msgs[0].MessageID)
	assert.Equal(t, domain.MessageStatusSent, msgs[0].Status)
}

func TestCommitAdvanceRollsBackOnDuplicateMessage(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)
	c := seedContact(t, s, "jane", domain.ContactStateNew)

	now := time.Now().UTC()
	msg := &domain.Message{
		MessageID: "msg_dup",
		ContactID: c.ID,
		Kind:      domain.MessageKindConnectionNote,
		Content:   "Hi",
		Status:    domain.MessageStatusSent,
		CreatedAt: now,
	}
	require.NoError(t, s.CreateMessage(ctx, msg))

	c.State = domain.ContactStateConnectionRequested
	err := s.CommitAdvance(ctx, c, msg)
	require.Error(t, err)

	// The contact transition must not have landed without the message.
	got, e := s.GetContact(ctx, c.ID)
	require.NoError(t, e)
	assert.Equal(t, domain.ContactStateNew, got.State)
}

func TestListMessagesKindFilter(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)
	c := seedContact(t, s, "jane", domain.ContactStateNew)

	for i, kind := range []domain.MessageKind{
		domain.MessageKindConnectionNote,
		domain.MessageKindFirstMessage,
	} {
		require.NoError(t, s.CreateMessage(ctx, &domain.Message{
			MessageID: "msg_" + string(rune('a'+i)),
			ContactID: c.ID,
			Kind:      kind,
			Content:   "x",
			Status:    domain.MessageStatusSent,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(ctx, c.ID, domain.MessageKindFirstMessage, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageKindFirstMessage, msgs[0].Kind)
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	job := &domain.Job{
		JobID:     "job_abc123",
		Kind:      domain.JobKindSendToday,
		Status:    domain.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.UpdateJobStatus(ctx, job.JobID, domain.JobStatusRunning, ""))
	require.NoError(t, s.UpdateJobProgress(ctx, job.JobID, 3, 10))
	require.NoError(t, s.UpdateJobStatus(ctx, job.JobID, domain.JobStatusCompleted, ""))

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Progress)
	assert.Equal(t, 10, got.Total)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.EndedAt)
}

func TestGetJobAbsent(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	job, err := s.GetJob(context.Background(), "job_missing")
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestReconcileInterrupted(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	for _, j := range []*domain.Job{
		{JobID: "job_q", Kind: domain.JobKindSendToday, Status: domain.JobStatusQueued, CreatedAt: time.Now().UTC()},
		{JobID: "job_r", Kind: domain.JobKindScrape, Status: domain.JobStatusRunning, CreatedAt: time.Now().UTC()},
		{JobID: "job_c", Kind: domain.JobKindSendFollowups, Status: domain.JobStatusCompleted, CreatedAt: time.Now().UTC()},
	} {
		require.NoError(t, s.CreateJob(ctx, j))
	}

	n, err := s.ReconcileInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"job_q", "job_r"} {
		got, err := s.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, got.Status)
		assert.Equal(t, "interrupted", got.Error)
		assert.NotNil(t, got.EndedAt)
	}
	done, err := s.GetJob(ctx, "job_c")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	sess, err := s.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.NoError(t, s.SaveSession(ctx, &domain.Session{
		Status:    domain.SessionConnected,
		UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SaveSession(ctx, &domain.Session{
		Status:    domain.SessionDisconnected,
		Reason:    "logged out",
		UpdatedAt: time.Now().UTC(),
	}))

	sess, err = s.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, domain.SessionDisconnected, sess.Status)
	assert.Equal(t, "logged out", sess.Reason)
}
