package runner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minutely/outreach/classify"
	"github.com/minutely/outreach/domain"
	"github.com/minutely/outreach/driver"
	"github.com/minutely/outreach/orchestrator"
	"github.com/minutely/outreach/policy"
	"github.com/minutely/outreach/runner"
	"github.com/minutely/outreach/session"
	"github.com/minutely/outreach/store"
	"github.com/minutely/outreach/tests/helpers"
)

type fixture struct {
	store  *store.SQLiteStore
	drv    driver.Driver
	sess   *session.Manager
	runner *runner.Runner
}

func newFixture(t *testing.T, drv driver.Driver, dailyLimit int) *fixture {
	t.Helper()
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)
	log := zap.NewNop()

	eng := policy.NewEngine(policy.Config{
		DailyLimit:       dailyLimit,
		Cooldown:         60 * 24 * time.Hour,
		FirstMessageWait: 2 * time.Hour,
		FollowUpWait:     3 * 24 * time.Hour,
	})
	gate, err := policy.NewGate(ctx, policy.DefaultGatePolicy)
	require.NoError(t, err)

	sess := session.NewManager(s, drv, log)
	orch := orchestrator.New(s, drv, classify.Static{Industry: domain.IndustryNews},
		eng, orchestrator.DefaultTemplates(), "", log)
	r := runner.New(s, orch, sess, eng, gate, log)
	t.Cleanup(r.Shutdown)

	return &fixture{store: s, drv: drv, sess: sess, runner: r}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	sess, err := f.sess.Login(context.Background(), driver.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, domain.SessionConnected, sess.Status)
}

func (f *fixture) seed(t *testing.T, profileID string, state domain.ContactState) *domain.Contact {
	t.Helper()
	ctx := context.Background()
	c := &domain.Contact{
		ProfileID:  profileID,
		ProfileURL: "https://example.com/in/" + profileID,
		FullName:   "Test " + profileID,
		FirstName:  "Test",
		State:      domain.ContactStateNew,
	}
	_, err := f.store.UpsertContact(ctx, c)
	require.NoError(t, err)
	if state != domain.ContactStateNew {
		c.State = state
		require.NoError(t, f.store.UpdateContact(ctx, c))
	}
	return c
}

func waitTerminal(t *testing.T, r *runner.Runner, jobID string) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := r.Status(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status", jobID)
	return domain.Job{}
}

func TestSubmitUnknownKind(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver(), 20)
	_, err := f.runner.Submit(context.Background(), "sweep", nil)
	assert.ErrorIs(t, err, runner.ErrUnknownKind)
}

func TestSubmitRejectsSameKindConflict(t *testing.T) {
	drv := &blockingDriver{MockDriver: driver.NewMockDriver(), release: make(chan struct{})}
	f := newFixture(t, drv, 20)
	f.login(t)
	f.seed(t, "a", domain.ContactStateNew)

	first, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	require.NoError(t, err)

	_, err = f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	assert.ErrorIs(t, err, runner.ErrConflict)

	// A different kind is allowed concurrently.
	other, err := f.runner.Submit(context.Background(), domain.JobKindSendFollowups, nil)
	require.NoError(t, err)

	close(drv.release)
	waitTerminal(t, f.runner, first.JobID)
	waitTerminal(t, f.runner, other.JobID)

	// Once the first job is terminal the kind frees up.
	again, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	require.NoError(t, err)
	waitTerminal(t, f.runner, again.JobID)
}

func TestSendTodayAdvancesContacts(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver(), 20)
	f.login(t)
	a := f.seed(t, "a", domain.ContactStateNew)
	b := f.seed(t, "b", domain.ContactStateNew)

	job, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Total, "batch size is fixed at submission")

	done := waitTerminal(t, f.runner, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.Total)
	assert.Equal(t, 2, done.Progress)

	for _, c := range []*domain.Contact{a, b} {
		got, err := f.store.GetContact(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ContactStateConnectionRequested, got.State)
	}
}

func TestQuotaStopsRunEarly(t *testing.T) {
	drv := driver.NewMockDriver()
	f := newFixture(t, drv, 1)
	f.login(t)
	f.seed(t, "a", domain.ContactStateNew)
	f.seed(t, "b", domain.ContactStateNew)
	f.seed(t, "c", domain.ContactStateNew)

	job, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	require.NoError(t, err)

	done := waitTerminal(t, f.runner, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status, "quota exhaustion is partial completion, not failure")
	assert.Equal(t, 3, done.Total)
	assert.Equal(t, 1, done.Progress)
	assert.Equal(t, 1, drv.ActionCount())
}

func TestRiskAbortsRemainderOfJob(t *testing.T) {
	drv := driver.NewMockDriver()
	f := newFixture(t, drv, 20)
	f.login(t)
	a := f.seed(t, "a", domain.ContactStateNew)
	b := f.seed(t, "b", domain.ContactStateNew)
	drv.Outcomes[a.ProfileID] = driver.ActionOutcome{Status: driver.OutcomeRisk, Detail: "security challenge"}

	job, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	require.NoError(t, err)

	done := waitTerminal(t, f.runner, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 0, done.Progress)
	assert.Equal(t, 1, drv.ActionCount(), "nothing after the risk signal")

	got, err := f.store.GetContact(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContactStateNew, got.State)
}

func TestJobFailsFastWithoutSession(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver(), 20)
	f.seed(t, "a", domain.ContactStateNew)

	job, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	require.NoError(t, err)

	done := waitTerminal(t, f.runner, job.JobID)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "authentication required")
}

func TestAuthExpiryMidRunFailsJob(t *testing.T) {
	drv := &expiredDriver{MockDriver: driver.NewMockDriver()}
	f := newFixture(t, drv, 20)
	f.login(t)
	f.seed(t, "a", domain.ContactStateNew)

	job, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	require.NoError(t, err)

	done := waitTerminal(t, f.runner, job.JobID)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "authentication required")
	assert.Equal(t, domain.SessionDisconnected, f.sess.CheckStatus().Status)
}

func TestScrapeIngestsConnections(t *testing.T) {
	drv := driver.NewMockDriver()
	now := time.Now().UTC()
	drv.Connections = []domain.Contact{
		{ProfileID: "x", ProfileURL: "https://example.com/in/x", FullName: "X One", FirstName: "X",
			State: domain.ContactStateConnected, ConnectedAt: &now},
		{ProfileID: "y", ProfileURL: "https://example.com/in/y", FullName: "Y Two", FirstName: "Y",
			State: domain.ContactStateConnected, ConnectedAt: &now},
	}
	f := newFixture(t, drv, 20)
	f.login(t)

	job, err := f.runner.Submit(context.Background(), domain.JobKindScrape, nil)
	require.NoError(t, err)

	done := waitTerminal(t, f.runner, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.Progress)
	assert.Equal(t, 2, done.Total)

	contacts, err := f.store.ListContacts(context.Background(), store.ContactFilter{ConnectedOnly: true})
	require.NoError(t, err)
	assert.Len(t, contacts, 2)
}

func TestScrapePromotesPendingInvite(t *testing.T) {
	drv := driver.NewMockDriver()
	now := time.Now().UTC()
	drv.Connections = []domain.Contact{
		{ProfileID: "a", ProfileURL: "https://example.com/in/a", FullName: "Test a", FirstName: "Test",
			State: domain.ContactStateConnected, ConnectedAt: &now},
	}
	f := newFixture(t, drv, 20)
	f.login(t)

	// The invite went out earlier and was accepted out of band; the scrape
	// is the only place that acceptance ever surfaces.
	c := f.seed(t, "a", domain.ContactStateConnectionRequested)

	job, err := f.runner.Submit(context.Background(), domain.JobKindScrape, nil)
	require.NoError(t, err)
	waitTerminal(t, f.runner, job.JobID)

	got, err := f.store.GetContact(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContactStateConnected, got.State)
	require.NotNil(t, got.ConnectedAt)
}

func TestCancelStopsBetweenItems(t *testing.T) {
	drv := &blockingDriver{MockDriver: driver.NewMockDriver(), release: make(chan struct{})}
	f := newFixture(t, drv, 20)
	f.login(t)
	f.seed(t, "a", domain.ContactStateNew)
	f.seed(t, "b", domain.ContactStateNew)

	job, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, nil)
	require.NoError(t, err)

	require.NoError(t, f.runner.Cancel(job.JobID))
	close(drv.release)

	done := waitTerminal(t, f.runner, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Less(t, done.Progress, done.Total)
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver(), 20)
	_, err := f.runner.Status(context.Background(), "job_missing")
	assert.ErrorIs(t, err, runner.ErrNotFound)
}

func TestStatusFallsBackToStore(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver(), 20)
	persisted := &domain.Job{
		JobID:     "job_old1234",
		Kind:      domain.JobKindSendToday,
		Status:    domain.JobStatusCompleted,
		Progress:  7,
		Total:     7,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateJob(context.Background(), persisted))

	job, err := f.runner.Status(context.Background(), persisted.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 7, job.Progress)
}

func TestSubmitWithExplicitContactIDs(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver(), 20)
	f.login(t)
	a := f.seed(t, "a", domain.ContactStateNew)
	f.seed(t, "b", domain.ContactStateNew)

	job, err := f.runner.Submit(context.Background(), domain.JobKindSendToday, []int64{a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Total)

	done := waitTerminal(t, f.runner, job.JobID)
	assert.Equal(t, 1, done.Total, "only the submitted contact is in the batch")
	assert.Equal(t, 1, done.Progress)
}

// blockingDriver parks every action until release is closed.
type blockingDriver struct {
	*driver.MockDriver
	release chan struct{}
}

func (b *blockingDriver) PerformAction(ctx context.Context, c *domain.Contact, action driver.Action) (driver.ActionOutcome, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return b.MockDriver.PerformAction(ctx, c, action)
}

// expiredDriver reports a dead session on the first action.
type expiredDriver struct {
	*driver.MockDriver
}

func (e *expiredDriver) PerformAction(ctx context.Context, c *domain.Contact, action driver.Action) (driver.ActionOutcome, error) {
	return driver.ActionOutcome{}, driver.ErrNotAuthenticated
}
