package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"harmonix/internal/activity"
	"harmonix/internal/config"
	"harmonix/internal/contentid"
	"harmonix/internal/entitlement"
	"harmonix/internal/jobs"
	"harmonix/internal/library"
	"harmonix/internal/logging"
	"harmonix/internal/services"
	"harmonix/internal/services/aubio"
	"harmonix/internal/services/demucs"
	"harmonix/internal/services/ytdlp"
)

// ActivityRecorder is the slice of the activity store the orchestrator uses.
// A nil recorder disables auditing and entitlement quotas.
type ActivityRecorder interface {
	Record(ctx context.Context, event activity.Event) error
	CountSince(ctx context.Context, actor, eventType string, since time.Time) (int, error)
}

// Engines bundles the three external tool clients.
type Engines struct {
	Downloader ytdlp.Downloader
	Analyzer   aubio.Analyzer
	Separator  demucs.Separator
}

// Orchestrator owns job dispatch: submission, deduplication, the bounded
// worker pool, and the staged pipeline each job runs through.
type Orchestrator struct {
	cfg      *config.Config
	registry jobs.Store
	cancels  *jobs.CancelRegistry
	store    *library.Store
	engines  Engines
	activity ActivityRecorder
	logger   *slog.Logger
	onUpdate func(*jobs.Record)

	sem chan struct{}

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional orchestrator behaviour.
type Option func(*Orchestrator)

// WithActivity wires the audit trail and entitlement quota source.
func WithActivity(recorder ActivityRecorder) Option {
	return func(o *Orchestrator) { o.activity = recorder }
}

// WithUpdateFunc registers a callback invoked with a cloned record after
// every state change, for progress streaming.
func WithUpdateFunc(fn func(*jobs.Record)) Option {
	return func(o *Orchestrator) { o.onUpdate = fn }
}

// New constructs an orchestrator. The worker pool is sized from
// workflow.max_concurrent_jobs.
func New(cfg *config.Config, registry jobs.Store, cancels *jobs.CancelRegistry, store *library.Store, engines Engines, logger *slog.Logger, opts ...Option) *Orchestrator {
	workers := cfg.Workflow.MaxConcurrentJobs
	if workers < 1 {
		workers = 1
	}
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		cancels:  cancels,
		store:    store,
		engines:  engines,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		sem:      make(chan struct{}, workers),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins accepting submissions.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("orchestrator already running")
	}
	o.runCtx, o.cancel = context.WithCancel(ctx)
	o.running = true
	return nil
}

// Stop rejects further submissions, cancels in-flight pipeline contexts and
// waits for workers to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
}

// SubmitRequest is one processing submission.
type SubmitRequest struct {
	Owner     string
	Plan      string
	SourceRef string
	Quality   string
	Mode      string
	Stems     []string
}

// resolvedJob carries a submission through the pipeline after entitlement
// and routing defaults are applied.
type resolvedJob struct {
	id        string
	owner     string
	sourceRef string
	contentID string
	quality   string // empty means route from analysis
	mode      string
	stems     []string
	dropped   []string
	plan      entitlement.Plan
}

// Submit validates, applies the owner's plan, and either short-circuits
// through the shared library or queues a pipeline run. The returned record
// is a snapshot.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*jobs.Record, error) {
	o.mu.Lock()
	running := o.running
	runCtx := o.runCtx
	o.mu.Unlock()
	if !running {
		return nil, services.Wrap(services.ErrInvalidState, "workflow", "submit", "orchestrator is not running", nil)
	}

	if req.SourceRef == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "source reference is required", nil)
	}
	owner := req.Owner
	if owner == "" {
		owner = jobs.AnonymousOwner
	}

	plan := entitlement.Resolve(req.Plan)
	if err := o.checkQuota(ctx, owner, plan); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = o.cfg.Processing.DefaultMode
	}
	requested := req.Stems
	if len(requested) == 0 {
		requested = defaultStems(mode)
	}
	kept, dropped := plan.FilterStems(requested)
	if len(kept) == 0 {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "no requested stems are available on this plan", nil)
	}
	quality := plan.ClampQuality(req.Quality)

	job := &resolvedJob{
		id:        uuid.NewString(),
		owner:     owner,
		sourceRef: req.SourceRef,
		quality:   quality,
		mode:      mode,
		stems:     kept,
		dropped:   dropped,
		plan:      plan,
	}
	if canonical, ok := contentid.Canonicalize(req.SourceRef); ok {
		job.contentID = canonical
	}

	if record, ok := o.tryDedup(ctx, job); ok {
		return record, nil
	}

	record := &jobs.Record{
		JobID:     job.id,
		Owner:     owner,
		Status:    jobs.StatusQueued,
		Stage:     "Queued",
		SourceRef: req.SourceRef,
		ContentID: job.contentID,
		Config: jobs.Config{
			Quality:        quality,
			Mode:           mode,
			RequestedStems: kept,
		},
		DroppedStems: dropped,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.registry.Create(record); err != nil {
		return nil, err
	}
	o.cancels.Register(job.id)
	o.recordEvent(ctx, activity.Event{Type: activity.EventJobSubmitted, Actor: owner, JobID: job.id, ContentID: job.contentID, Detail: req.SourceRef})

	o.wg.Add(1)
	go o.runJob(runCtx, job)

	snapshot, _ := o.registry.Get(job.id)
	return snapshot, nil
}

// tryDedup serves the submission from the shared library when the content is
// already separated with every stem the caller keeps. The reservation keeps
// the entry out of the archiver's reach until the link lands.
func (o *Orchestrator) tryDedup(ctx context.Context, job *resolvedJob) (*jobs.Record, bool) {
	if job.contentID == "" {
		return nil, false
	}
	entry, ok := o.store.Lookup(job.contentID)
	if !ok {
		return nil, false
	}
	for _, stemType := range job.stems {
		if _, present := entry.Stems[stemType]; !present {
			return nil, false
		}
	}
	if err := o.store.Reserve(job.contentID); err != nil {
		return nil, false
	}
	if err := o.store.Link(job.owner, job.id, job.contentID, entry.DisplayName); err != nil {
		o.store.ReleaseReservation(job.contentID)
		o.logger.Warn("dedup link failed; running full pipeline",
			logging.String(logging.FieldJobID, job.id),
			logging.String(logging.FieldContentID, job.contentID),
			logging.Error(err),
		)
		return nil, false
	}

	record := &jobs.Record{
		JobID:     job.id,
		Owner:     job.owner,
		Status:    jobs.StatusQueued,
		SourceRef: job.sourceRef,
		ContentID: job.contentID,
		Config: jobs.Config{
			Quality:        entry.Quality,
			Mode:           job.mode,
			RequestedStems: job.stems,
		},
		DroppedStems: job.dropped,
		Stems:        entry.Stems,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.registry.Create(record); err != nil {
		return nil, false
	}
	// Queued -> Completed is a legal edge reserved for library hits.
	_ = o.mutate(job.id, func(r *jobs.Record) error {
		r.SetCompleted(entry.Stems)
		return nil
	})
	o.recordEvent(ctx, activity.Event{Type: activity.EventDedupHit, Actor: job.owner, JobID: job.id, ContentID: job.contentID})
	o.logger.Info("served from library",
		logging.String(logging.FieldJobID, job.id),
		logging.String(logging.FieldOwner, job.owner),
		logging.String(logging.FieldContentID, job.contentID),
	)
	snapshot, _ := o.registry.Get(job.id)
	return snapshot, true
}

// RequestCancel flips the cooperative flag and moves a non-terminal job to
// cancelling. The worker finishes its current stage before honoring it.
func (o *Orchestrator) RequestCancel(jobID string) error {
	err := o.mutate(jobID, func(r *jobs.Record) error {
		if r.Status.IsTerminal() {
			return services.Wrap(services.ErrInvalidState, "workflow", "cancel", "job already finished", nil)
		}
		r.Status = jobs.StatusCancelling
		r.Stage = "Cancelling"
		return nil
	})
	if err != nil {
		return err
	}
	o.cancels.RequestCancel(jobID)
	return nil
}

// checkQuota enforces the plan's monthly song limit against the audit trail.
func (o *Orchestrator) checkQuota(ctx context.Context, owner string, plan entitlement.Plan) error {
	if o.activity == nil || plan.SongsPerMonth == entitlement.Unlimited {
		return nil
	}
	monthStart := time.Now().UTC().AddDate(0, -1, 0)
	used, err := o.activity.CountSince(ctx, owner, activity.EventJobSubmitted, monthStart)
	if err != nil {
		o.logger.Warn("quota lookup failed; allowing submission", logging.Error(err))
		return nil
	}
	return plan.CheckQuota(used)
}

// mutate applies a registry mutation and forwards the resulting snapshot to
// the update callback.
func (o *Orchestrator) mutate(jobID string, fn func(*jobs.Record) error) error {
	if err := o.registry.Mutate(jobID, fn); err != nil {
		return err
	}
	if o.onUpdate != nil {
		if snapshot, ok := o.registry.Get(jobID); ok {
			o.onUpdate(snapshot)
		}
	}
	return nil
}

func (o *Orchestrator) recordEvent(ctx context.Context, event activity.Event) {
	if o.activity == nil {
		return
	}
	if err := o.activity.Record(ctx, event); err != nil {
		o.logger.Warn("activity record failed",
			logging.String(logging.FieldEventType, event.Type),
			logging.Error(err),
		)
	}
}
