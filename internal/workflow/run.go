package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"harmonix/internal/activity"
	"harmonix/internal/jobs"
	"harmonix/internal/logging"
	"harmonix/internal/services"
	"harmonix/internal/services/aubio"
	"harmonix/internal/services/demucs"
	"harmonix/internal/services/ytdlp"
	"harmonix/internal/stems"
)

// Progress windows per stage. Terminal states jump to 100 regardless.
const (
	progressDownloadEnd = 15
	progressAnalyzeEnd  = 25
	progressProcessEnd  = 90
)

// runJob shepherds one submission through the pipeline. It owns the record
// for its whole life; cancellation is honored at stage boundaries only.
func (o *Orchestrator) runJob(ctx context.Context, job *resolvedJob) {
	defer o.wg.Done()
	defer o.cancels.Release(job.id)

	ctx = services.WithJobID(ctx, job.id)
	ctx = services.WithOwner(ctx, job.owner)
	logger := logging.WithContext(ctx, o.logger)

	// Wait for a worker slot.
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		o.finishCancelled(ctx, job)
		return
	}
	if err := o.checkpoint(ctx, job.id); err != nil {
		o.finishCancelled(ctx, job)
		return
	}

	runCtx := ctx
	if o.cfg.Workflow.MaxJobSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.Workflow.MaxJobSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	produced, err := o.execute(runCtx, job)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		completeErr := o.mutate(job.id, func(r *jobs.Record) error {
			r.SetCompleted(produced)
			r.ProcessingTime = elapsed.Seconds()
			return nil
		})
		if completeErr != nil {
			// A cancel landed while finalize ran and moved the record to
			// Cancelling. The publish already happened, so retract it and
			// honor the cancellation.
			if o.cancels.IsCancelled(job.id) {
				o.retractOutputs(job)
				o.finishCancelled(ctx, job)
				logger.Info("job cancelled during finalize")
				return
			}
			logger.Warn("completion not recorded", logging.Error(completeErr))
			return
		}
		o.recordEvent(ctx, activity.Event{Type: activity.EventJobCompleted, Actor: job.owner, JobID: job.id, ContentID: job.contentID})
		logger.Info("job completed", logging.Duration("elapsed", elapsed))
	case errors.Is(err, services.ErrCancelled):
		o.finishCancelled(ctx, job)
		logger.Info("job cancelled")
	default:
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = "job exceeded the maximum processing time"
		}
		_ = o.mutate(job.id, func(r *jobs.Record) error {
			r.SetFailed(message)
			return nil
		})
		o.recordEvent(ctx, activity.Event{Type: activity.EventJobFailed, Actor: job.owner, JobID: job.id, Detail: message})
		logger.Error("job failed", logging.Error(err))
	}
}

// execute runs the four pipeline stages and returns the published stem map.
func (o *Orchestrator) execute(ctx context.Context, job *resolvedJob) (map[string]string, error) {
	stagingDir := o.stagingDir(job.id)
	defer os.RemoveAll(stagingDir)

	// Downloading: 0-15. Local sources (direct uploads, on-disk paths)
	// already have their audio and skip the stage entirely.
	var source ytdlp.Result
	if path, ok := localSource(job.sourceRef); ok {
		source = ytdlp.Result{AudioPath: path}
	} else {
		if err := o.transition(job.id, jobs.StatusDownloading, "Downloading", 0); err != nil {
			return nil, err
		}
		var err error
		source, err = o.engines.Downloader.Download(services.WithStage(ctx, "download"), job.sourceRef, stagingDir, func(percent int) {
			o.progress(job.id, "Downloading", scale(0, progressDownloadEnd, percent))
		})
		if err != nil {
			return nil, services.Wrap(services.ErrUpstreamFailure, "download", "run", "acquire source audio", err)
		}
		if err := o.checkpoint(ctx, job.id); err != nil {
			return nil, err
		}
	}

	displayName := source.Title
	if displayName == "" {
		displayName = stems.DeriveDisplayName(job.sourceRef)
	}

	// Analyzing: 15-25, best effort.
	if err := o.transition(job.id, jobs.StatusAnalyzing, "Analyzing", progressDownloadEnd); err != nil {
		return nil, err
	}
	analysis, analyzeErr := o.engines.Analyzer.Analyze(services.WithStage(ctx, "analyze"), source.AudioPath)
	if analyzeErr != nil {
		o.logger.Warn("analysis failed; continuing without it",
			logging.String(logging.FieldJobID, job.id),
			logging.Error(analyzeErr),
		)
		analysis = aubio.Analysis{}
	}
	names := make([]string, 0, len(analysis.Instruments))
	for _, inst := range analysis.Instruments {
		names = append(names, inst.Name)
	}
	_ = o.mutate(job.id, func(r *jobs.Record) error {
		r.DetectedInstruments = names
		r.SetProgress("Analyzing", progressAnalyzeEnd)
		return nil
	})
	if err := o.checkpoint(ctx, job.id); err != nil {
		return nil, err
	}

	duration := source.Duration
	if duration == 0 {
		duration = analysis.Duration
	}

	quality := job.quality
	if quality == "" {
		quality = job.plan.ClampQuality(routeQuality(analysis.Instruments, o.cfg.Processing.ComplexityThreshold))
		_ = o.mutate(job.id, func(r *jobs.Record) error {
			r.Config.Quality = quality
			return nil
		})
	}

	// Processing: 25-90.
	if err := o.transition(job.id, jobs.StatusProcessing, "Processing", progressAnalyzeEnd); err != nil {
		return nil, err
	}
	outputDir, shared, err := o.outputDir(job, displayName, quality, duration, analysis)
	if err != nil {
		return nil, err
	}
	produced, err := o.engines.Separator.Separate(services.WithStage(ctx, "separate"), demucs.Request{
		InputPath:   source.AudioPath,
		OutputDir:   outputDir,
		DisplayName: displayName,
		Quality:     quality,
		Mode:        job.mode,
	}, func(percent int) {
		o.progress(job.id, "Processing", scale(progressAnalyzeEnd, progressProcessEnd, percent))
	})
	if err != nil {
		o.discardOutputs(job, shared, outputDir)
		return nil, services.Wrap(services.ErrUpstreamFailure, "separate", "run", "stem separation", err)
	}
	if err := o.checkpoint(ctx, job.id); err != nil {
		o.discardOutputs(job, shared, outputDir)
		return nil, err
	}

	// Finalize: 90-100. Publishing is all or nothing.
	o.progress(job.id, "Finalize", progressProcessEnd)
	if err := o.finalize(job, shared, outputDir, displayName, quality, duration, analysis, producedTypes(produced)); err != nil {
		o.discardOutputs(job, shared, outputDir)
		return nil, err
	}
	return produced, nil
}

// outputDir decides where separation output lands: a pending shared entry
// for canonical content, a private job directory otherwise. Losing the
// shared slot to a concurrent writer demotes the job to private output.
func (o *Orchestrator) outputDir(job *resolvedJob, displayName, quality string, duration float64, analysis aubio.Analysis) (string, bool, error) {
	if job.contentID != "" {
		dir, err := o.store.Create(job.contentID, stems.Metadata{
			SourceURL:   job.sourceRef,
			DisplayName: displayName,
			Duration:    duration,
			Quality:     quality,
			Mode:        job.mode,
			Tempo:       analysis.TempoBPM,
			Key:         analysis.Key,
		})
		if err == nil {
			return dir, true, nil
		}
		o.logger.Warn("shared entry unavailable; writing private output",
			logging.String(logging.FieldJobID, job.id),
			logging.String(logging.FieldContentID, job.contentID),
			logging.Error(err),
		)
	}
	dir := o.store.PrivateJobDir(job.owner, job.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, services.Wrap(services.ErrUpstreamFailure, "finalize", "run", "create output directory", err)
	}
	return dir, false, nil
}

// finalize publishes the outputs. Shared entries commit then link, so the
// entry never becomes visible without its stems and never exists committed
// without the submitting owner holding a usage link.
func (o *Orchestrator) finalize(job *resolvedJob, shared bool, outputDir, displayName, quality string, duration float64, analysis aubio.Analysis, produced []string) error {
	if shared {
		if err := o.store.Commit(job.contentID, produced); err != nil {
			return err
		}
		if err := o.store.Link(job.owner, job.id, job.contentID, displayName); err != nil {
			return err
		}
		return nil
	}

	meta := stems.Metadata{
		SourceURL:   job.sourceRef,
		DisplayName: displayName,
		Duration:    duration,
		Quality:     quality,
		Mode:        job.mode,
		Tempo:       analysis.TempoBPM,
		Key:         analysis.Key,
		CreatedAt:   time.Now().UTC(),
	}
	if err := stems.WriteMetadata(outputDir, &meta); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "finalize", "run", "write metadata", err)
	}
	return nil
}

// localSource reports whether ref names a regular file on disk. URLs and
// anything unreadable fall through to the downloader.
func localSource(ref string) (string, bool) {
	if strings.Contains(ref, "://") {
		return "", false
	}
	info, err := os.Stat(ref)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return ref, true
}

// retractOutputs undoes a publish that a cancellation overtook: the usage
// link is released and private output is removed. A shared entry stays
// committed; with no links it is ordinary archiver fodder.
func (o *Orchestrator) retractOutputs(job *resolvedJob) {
	contentID, err := o.store.Unlink(job.owner, job.id)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		o.logger.Warn("link retraction failed",
			logging.String(logging.FieldJobID, job.id),
			logging.Error(err),
		)
	}
	if contentID == "" {
		_ = os.RemoveAll(o.store.PrivateJobDir(job.owner, job.id))
	}
}

// discardOutputs removes whatever a failed or cancelled run left behind.
// Uncommitted shared entries are deleted so no partial publish survives.
func (o *Orchestrator) discardOutputs(job *resolvedJob, shared bool, outputDir string) {
	if shared {
		if err := o.store.Remove(job.contentID); err != nil {
			o.logger.Warn("pending entry cleanup failed",
				logging.String(logging.FieldContentID, job.contentID),
				logging.Error(err),
			)
		}
		return
	}
	_ = os.RemoveAll(outputDir)
}

// checkpoint reports whether the job should stop here. Deadline expiry is a
// failure, everything else that cancels the context is a cancellation.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return services.Wrap(services.ErrCancelled, "workflow", "checkpoint", "shutting down", err)
	}
	if o.cancels.IsCancelled(jobID) {
		return services.Wrap(services.ErrCancelled, "workflow", "checkpoint", "cancellation requested", nil)
	}
	return nil
}

func (o *Orchestrator) finishCancelled(ctx context.Context, job *resolvedJob) {
	_ = o.mutate(job.id, func(r *jobs.Record) error {
		if r.Status != jobs.StatusCancelling {
			r.Status = jobs.StatusCancelling
			r.Stage = "Cancelling"
		}
		return nil
	})
	_ = o.mutate(job.id, func(r *jobs.Record) error {
		r.SetCancelled()
		return nil
	})
	o.recordEvent(ctx, activity.Event{Type: activity.EventJobCancelled, Actor: job.owner, JobID: job.id})
}

func (o *Orchestrator) transition(jobID string, status jobs.Status, stage string, percent int) error {
	err := o.mutate(jobID, func(r *jobs.Record) error {
		r.Status = status
		r.SetProgress(stage, percent)
		return nil
	})
	if err != nil && o.cancels.IsCancelled(jobID) {
		// A cancel landed between the checkpoint and this transition.
		return services.Wrap(services.ErrCancelled, "workflow", "transition", "cancellation requested", nil)
	}
	return err
}

func (o *Orchestrator) progress(jobID, stage string, percent int) {
	_ = o.mutate(jobID, func(r *jobs.Record) error {
		r.SetProgress(stage, percent)
		return nil
	})
}

func (o *Orchestrator) stagingDir(jobID string) string {
	return filepath.Join(o.cfg.Paths.StagingDir, jobID)
}

// scale maps a stage-local percent onto the stage's global progress window.
func scale(from, to, percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return from + (to-from)*percent/100
}

func producedTypes(produced map[string]string) []string {
	types := make([]string, 0, len(produced))
	for stemType := range produced {
		types = append(types, stemType)
	}
	return types
}
