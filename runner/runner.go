// Package runner executes batches of outreach steps as asynchronous,
// pollable jobs. At most one job per kind runs at a time; execution is
// cooperative so cancellation and shutdown land between items, never
// mid-action.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minutely/outreach/domain"
	"github.com/minutely/outreach/orchestrator"
	"github.com/minutely/outreach/policy"
	"github.com/minutely/outreach/session"
	"github.com/minutely/outreach/store"
)

var (
	// ErrConflict means a job of the same kind is already active.
	ErrConflict = errors.New("a job of this kind is already active")
	// ErrUnknownKind means the submitted kind is not in the fixed set.
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrNotFound means no job with that ID exists.
	ErrNotFound = errors.New("job not found")
)

// maxRetainedJobs bounds the in-memory registry. Persisted rows are kept.
const maxRetainedJobs = 50

// kindStates maps each send kind to the contact states it processes, in
// pipeline order. The today run pushes new contacts forward; the follow-up
// run handles everything after the connection request went out.
var kindStates = map[domain.JobKind][]domain.ContactState{
	domain.JobKindSendToday: {domain.ContactStateNew},
	domain.JobKindSendFollowups: {
		domain.ContactStateConnectionRequested,
		domain.ContactStateConnected,
		domain.ContactStateFirstMessageSent,
		domain.ContactStateFollowUpSent,
	},
}

// gateActions maps a contact state to the action kind the gate is asked
// about before the orchestrator runs.
var gateActions = map[domain.ContactState]string{
	domain.ContactStateNew:                 "connection_note",
	domain.ContactStateConnectionRequested: "observe",
	domain.ContactStateConnected:           "first_message",
	domain.ContactStateFirstMessageSent:    "follow_up",
	domain.ContactStateFollowUpSent:        "observe",
}

type jobEntry struct {
	mu     sync.Mutex
	job    domain.Job
	cancel context.CancelFunc
}

func (e *jobEntry) snapshot() domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Runner owns job submission, execution and the in-memory registry.
type Runner struct {
	store   store.Store
	orch    *orchestrator.Orchestrator
	session *session.Manager
	policy  *policy.Engine
	gate    *policy.Gate
	log     *zap.Logger

	mu    sync.Mutex
	jobs  map[string]*jobEntry
	order []string
	wg    sync.WaitGroup
}

// New creates a job runner.
func New(st store.Store, orch *orchestrator.Orchestrator, sess *session.Manager, eng *policy.Engine, gate *policy.Gate, log *zap.Logger) *Runner {
	return &Runner{
		store:   st,
		orch:    orch,
		session: sess,
		policy:  eng,
		gate:    gate,
		log:     log.Named("runner"),
		jobs:    map[string]*jobEntry{},
	}
}

func newJobID() string {
	return "job_" + uuid.New().String()[:8]
}

// Submit validates kind exclusivity, persists a queued job and starts
// execution in its own goroutine. ContactIDs may be empty, in which case
// candidates are selected by state. Total is fixed at submission so the
// caller learns the batch size from the submit response; scrape jobs learn
// theirs only once the connections page is read.
func (r *Runner) Submit(ctx context.Context, kind domain.JobKind, contactIDs []int64) (domain.Job, error) {
	if !kind.Valid() {
		return domain.Job{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		entry := r.jobs[id]
		snap := entry.snapshot()
		if snap.Kind == kind && !snap.Status.Terminal() {
			return domain.Job{}, fmt.Errorf("%w: %s is %s", ErrConflict, snap.JobID, snap.Status)
		}
	}

	var candidates []domain.Contact
	if kind != domain.JobKindScrape {
		var err error
		candidates, err = r.selectCandidates(ctx, kind, contactIDs)
		if err != nil {
			return domain.Job{}, fmt.Errorf("select candidates: %w", err)
		}
	}

	job := domain.Job{
		JobID:     newJobID(),
		Kind:      kind,
		Status:    domain.JobStatusQueued,
		Total:     len(candidates),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateJob(ctx, &job); err != nil {
		return domain.Job{}, fmt.Errorf("persist job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	entry := &jobEntry{job: job, cancel: cancel}
	r.jobs[job.JobID] = entry
	r.order = append(r.order, job.JobID)
	r.evictLocked()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.execute(runCtx, entry, candidates)
	}()

	r.log.Info("job submitted",
		zap.String("job_id", job.JobID),
		zap.String("kind", string(kind)),
		zap.Int("contact_ids", len(contactIDs)))
	return job, nil
}

// Status returns the current job view, from memory when the job is still
// registered, falling back to the store for older jobs. Never blocks on
// execution.
func (r *Runner) Status(ctx context.Context, jobID string) (domain.Job, error) {
	r.mu.Lock()
	entry, ok := r.jobs[jobID]
	r.mu.Unlock()
	if ok {
		return entry.snapshot(), nil
	}
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job == nil {
		return domain.Job{}, ErrNotFound
	}
	return *job, nil
}

// Cancel requests cooperative cancellation. The job stops between items
// and reports completed with partial progress.
func (r *Runner) Cancel(jobID string) error {
	r.mu.Lock()
	entry, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if entry.snapshot().Status.Terminal() {
		return nil
	}
	entry.cancel()
	return nil
}

// Shutdown cancels every active job and waits for their goroutines.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, id := range r.order {
		r.jobs[id].cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// evictLocked drops the oldest terminal jobs past the retention cap.
// Caller holds r.mu.
func (r *Runner) evictLocked() {
	if len(r.order) <= maxRetainedJobs {
		return
	}
	kept := r.order[:0]
	excess := len(r.order) - maxRetainedJobs
	for _, id := range r.order {
		if excess > 0 && r.jobs[id].snapshot().Status.Terminal() {
			delete(r.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *Runner) setStatus(entry *jobEntry, status domain.JobStatus, errMsg string) {
	now := time.Now().UTC()
	entry.mu.Lock()
	entry.job.Status = status
	entry.job.Error = errMsg
	switch {
	case status == domain.JobStatusRunning:
		entry.job.StartedAt = &now
	case status.Terminal():
		entry.job.EndedAt = &now
	}
	jobID := entry.job.JobID
	entry.mu.Unlock()

	// Persistence uses its own context: a cancelled job must still land
	// its terminal row.
	if err := r.store.UpdateJobStatus(context.Background(), jobID, status, errMsg); err != nil {
		r.log.Error("persist job status", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (r *Runner) setProgress(entry *jobEntry, progress, total int) {
	entry.mu.Lock()
	entry.job.Progress = progress
	entry.job.Total = total
	jobID := entry.job.JobID
	entry.mu.Unlock()
	if err := r.store.UpdateJobProgress(context.Background(), jobID, progress, total); err != nil {
		r.log.Error("persist job progress", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (r *Runner) execute(ctx context.Context, entry *jobEntry, candidates []domain.Contact) {
	job := entry.snapshot()
	log := r.log.With(zap.String("job_id", job.JobID), zap.String("kind", string(job.Kind)))

	// Every kind needs the driver, so a disconnected session fails the
	// job before any quota is consumed.
	if !r.session.Ready() {
		r.setStatus(entry, domain.JobStatusFailed, "authentication required: session not connected")
		log.Warn("job failed, session not ready")
		return
	}
	r.setStatus(entry, domain.JobStatusRunning, "")

	if job.Kind == domain.JobKindScrape {
		r.executeScrape(ctx, entry, log)
		return
	}
	r.executeSend(ctx, entry, candidates, log)
}

func (r *Runner) executeScrape(ctx context.Context, entry *jobEntry, log *zap.Logger) {
	if decision := r.gateDecision(ctx, "scrape", 0, log); decision == "block" {
		r.setStatus(entry, domain.JobStatusCompleted, "")
		log.Info("scrape blocked by policy gate")
		return
	}

	contacts, err := r.orch.ListConnections(ctx)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrAuthRequired):
			r.session.Expire(context.Background(), "session expired during scrape")
			r.setStatus(entry, domain.JobStatusFailed, "authentication required")
		case errors.Is(err, orchestrator.ErrRiskDetected):
			// Risk stops the run but is not a job fault.
			r.setStatus(entry, domain.JobStatusCompleted, "")
			log.Warn("scrape stopped on risk signal", zap.Error(err))
		default:
			r.setStatus(entry, domain.JobStatusFailed, err.Error())
		}
		return
	}

	total := len(contacts)
	r.setProgress(entry, 0, total)
	progress := 0
	for i := range contacts {
		if ctx.Err() != nil {
			break
		}
		if _, err := r.orch.IngestContact(ctx, &contacts[i]); err != nil {
			log.Error("upsert scraped contact",
				zap.String("profile_id", contacts[i].ProfileID), zap.Error(err))
		} else {
			progress++
		}
		r.setProgress(entry, progress, total)
	}
	r.setStatus(entry, domain.JobStatusCompleted, "")
	log.Info("scrape finished", zap.Int("progress", progress), zap.Int("total", total))
}

func (r *Runner) executeSend(ctx context.Context, entry *jobEntry, candidates []domain.Contact, log *zap.Logger) {
	total := len(candidates)
	r.setProgress(entry, 0, total)

	progress, acted := 0, 0
	for i := range candidates {
		if ctx.Err() != nil {
			log.Info("job cancelled", zap.Int("progress", progress))
			break
		}
		if r.policy.QuotaRemaining(acted) == 0 {
			log.Info("quota exhausted", zap.Int("acted", acted))
			break
		}

		contact := &candidates[i]
		if decision := r.gateDecision(ctx, gateActions[contact.State], acted, log); decision == "block" {
			log.Info("action blocked by policy gate",
				zap.String("profile_id", contact.ProfileID),
				zap.String("state", string(contact.State)))
			progress++
			r.setProgress(entry, progress, total)
			continue
		}

		res, err := r.orch.Advance(ctx, contact)
		switch {
		case err == nil:
			progress++
			r.setProgress(entry, progress, total)
			if res.Acted {
				acted++
				// A cancelled wait is caught by the ctx check on the
				// next iteration.
				r.sleepBetween(ctx)
			}
		case errors.Is(err, orchestrator.ErrNotEligible):
			progress++
			r.setProgress(entry, progress, total)
		case errors.Is(err, orchestrator.ErrRiskDetected):
			log.Warn("risk detected, stopping run",
				zap.String("profile_id", contact.ProfileID), zap.Error(err))
			r.setStatus(entry, domain.JobStatusCompleted, "")
			return
		case errors.Is(err, orchestrator.ErrAuthRequired):
			r.session.Expire(context.Background(), "session expired during job")
			r.setStatus(entry, domain.JobStatusFailed, "authentication required")
			return
		default:
			// Per-contact driver or store faults never abort the run.
			log.Error("advance failed",
				zap.String("profile_id", contact.ProfileID), zap.Error(err))
			progress++
			r.setProgress(entry, progress, total)
		}
	}

	r.setStatus(entry, domain.JobStatusCompleted, "")
	log.Info("job finished",
		zap.Int("progress", progress),
		zap.Int("total", total),
		zap.Int("acted", acted))
}

// selectCandidates resolves explicit contact IDs, or queries the store by
// the kind's state set in pipeline order. The eligible backlog is not capped
// at the daily limit; the run loop stops on quota, and progress < total
// surfaces the partial batch.
func (r *Runner) selectCandidates(ctx context.Context, kind domain.JobKind, contactIDs []int64) ([]domain.Contact, error) {
	if len(contactIDs) > 0 {
		var out []domain.Contact
		for _, id := range contactIDs {
			c, err := r.store.GetContact(ctx, id)
			if err != nil {
				return nil, err
			}
			if c == nil {
				r.log.Warn("submitted contact not found", zap.Int64("contact_id", id))
				continue
			}
			out = append(out, *c)
		}
		return out, nil
	}

	var out []domain.Contact
	for _, state := range kindStates[kind] {
		batch, err := r.store.ListContacts(ctx, store.ContactFilter{State: state})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (r *Runner) gateDecision(ctx context.Context, action string, acted int, log *zap.Logger) string {
	if r.gate == nil {
		return "allow"
	}
	decision, err := r.gate.Evaluate(ctx, policy.GateInput{
		Action:       action,
		ActionsTaken: acted,
		DailyLimit:   r.policy.Config().DailyLimit,
	})
	if err != nil {
		log.Error("policy gate evaluation failed", zap.Error(err))
		return "allow"
	}
	return decision
}

// sleepBetween waits the randomized inter-action delay, returning false if
// the job was cancelled while waiting.
func (r *Runner) sleepBetween(ctx context.Context) bool {
	timer := time.NewTimer(r.policy.NextDelay())
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
