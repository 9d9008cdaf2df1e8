package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"harmonix/internal/activity"
	"harmonix/internal/config"
	"harmonix/internal/jobs"
	"harmonix/internal/library"
	"harmonix/internal/logging"
	"harmonix/internal/services"
	"harmonix/internal/services/aubio"
	"harmonix/internal/services/demucs"
	"harmonix/internal/services/ytdlp"
	"harmonix/internal/stems"
	"harmonix/internal/testsupport"
	"harmonix/internal/workflow"
)

type fakeDownloader struct {
	calls    int32
	title    string
	duration float64
	err      error
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeDownloader) Download(ctx context.Context, sourceURL, destDir string, progress func(int)) (ytdlp.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ytdlp.Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return ytdlp.Result{}, f.err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ytdlp.Result{}, err
	}
	audioPath := filepath.Join(destDir, "source.mp3")
	if err := os.WriteFile(audioPath, []byte("audio"), 0o644); err != nil {
		return ytdlp.Result{}, err
	}
	if progress != nil {
		progress(100)
	}
	title := f.title
	if title == "" {
		title = "Test Song"
	}
	return ytdlp.Result{AudioPath: audioPath, Title: title, Duration: f.duration}, nil
}

type fakeAnalyzer struct {
	analysis aubio.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, audioPath string) (aubio.Analysis, error) {
	return f.analysis, f.err
}

type fakeSeparator struct {
	calls int32
	emit  []string
	err   error
}

func (f *fakeSeparator) Separate(ctx context.Context, req demucs.Request, progress func(int)) (map[string]string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	emit := f.emit
	if len(emit) == 0 {
		emit = []string{"vocals", "drums", "bass", "other"}
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, err
	}
	produced := make(map[string]string, len(emit))
	for _, stemType := range emit {
		path := filepath.Join(req.OutputDir, stems.FileName(req.DisplayName, stemType, "mp3"))
		if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
			return nil, err
		}
		produced[stemType] = path
	}
	if progress != nil {
		progress(100)
	}
	return produced, nil
}

type fixture struct {
	orch     *workflow.Orchestrator
	registry *jobs.Registry
	store    *library.Store
	download *fakeDownloader
	separate *fakeSeparator
}

func newFixture(t *testing.T, mutate ...func(*config.Config, *workflow.Engines)) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	download := &fakeDownloader{}
	separate := &fakeSeparator{}
	engines := workflow.Engines{
		Downloader: download,
		Analyzer:   &fakeAnalyzer{},
		Separator:  separate,
	}
	for _, fn := range mutate {
		fn(cfg, &engines)
	}

	registry := jobs.NewRegistry()
	orch := workflow.New(cfg, registry, jobs.NewCancelRegistry(), store, engines, logging.NewNop())
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(orch.Stop)
	return &fixture{orch: orch, registry: registry, store: store, download: download, separate: separate}
}

func waitTerminal(t *testing.T, registry *jobs.Registry, jobID string) *jobs.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if record, ok := registry.Get(jobID); ok && record.Status.IsTerminal() {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return nil
}

const youtubeURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestSubmitRunsPipelineAndPublishes(t *testing.T) {
	fx := newFixture(t)
	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner:     "alice",
		Plan:      "studio",
		SourceRef: youtubeURL,
		Quality:   "balanced",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitTerminal(t, fx.registry, record.JobID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, error = %q", final.Status, final.Error)
	}
	if final.Progress != 100 {
		t.Fatalf("completed jobs end at 100, got %d", final.Progress)
	}
	if len(final.Stems) != 4 {
		t.Fatalf("stems = %v", final.Stems)
	}

	entry, ok := fx.store.Lookup("dQw4w9WgXcQ")
	if !ok {
		t.Fatal("separation output should be committed to the library")
	}
	if entry.UsageCount != 1 {
		t.Fatalf("usage = %d, want 1", entry.UsageCount)
	}
	link, ok, err := fx.store.LinkFor("alice", record.JobID)
	if err != nil || !ok {
		t.Fatalf("owner link missing: ok=%v err=%v", ok, err)
	}
	if link.ContentID != "dQw4w9WgXcQ" {
		t.Fatalf("link content = %q", link.ContentID)
	}
}

func TestSecondSubmitServedFromLibrary(t *testing.T) {
	fx := newFixture(t)
	first, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: youtubeURL,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, fx.registry, first.JobID)

	second, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "bob", Plan: "studio", SourceRef: "https://youtu.be/dQw4w9WgXcQ",
	})
	if err != nil {
		t.Fatalf("Submit dedup: %v", err)
	}
	if second.Status != jobs.StatusCompleted {
		t.Fatalf("dedup hit should complete synchronously, got %s", second.Status)
	}
	if got := atomic.LoadInt32(&fx.download.calls); got != 1 {
		t.Fatalf("download ran %d times, want 1", got)
	}
	if got := atomic.LoadInt32(&fx.separate.calls); got != 1 {
		t.Fatalf("separation ran %d times, want 1", got)
	}

	usage, err := fx.store.UsageCount("dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("UsageCount: %v", err)
	}
	if usage != 2 {
		t.Fatalf("usage = %d, want 2", usage)
	}
}

func TestDedupMissWhenRequestedStemAbsent(t *testing.T) {
	fx := newFixture(t)
	first, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: youtubeURL, Mode: "grouped",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, fx.registry, first.JobID)

	// Karaoke needs an instrumental stem the grouped run never produced.
	fx.separate.emit = []string{"vocals", "instrumental"}
	second, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "bob", Plan: "studio", SourceRef: youtubeURL, Mode: "karaoke",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, fx.registry, second.JobID)
	if got := atomic.LoadInt32(&fx.download.calls); got != 2 {
		t.Fatalf("expected a second full run, downloads = %d", got)
	}
}

func TestFailedSeparationPublishesNothing(t *testing.T) {
	fx := newFixture(t)
	fx.separate.err = errors.New("model crashed")

	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: youtubeURL,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitTerminal(t, fx.registry, record.JobID)
	if final.Status != jobs.StatusFailed {
		t.Fatalf("status = %s", final.Status)
	}
	if final.Error == "" {
		t.Fatal("failed jobs must carry an error message")
	}
	if _, ok := fx.store.Lookup("dQw4w9WgXcQ"); ok {
		t.Fatal("failed run must not publish a library entry")
	}
	if _, ok, _ := fx.store.LinkFor("alice", record.JobID); ok {
		t.Fatal("failed run must not create a usage link")
	}
}

func TestCancelBetweenStages(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fx := newFixture(t, func(cfg *config.Config, engines *workflow.Engines) {
		download := &fakeDownloader{started: started, release: release}
		engines.Downloader = download
	})

	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: youtubeURL,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := fx.orch.RequestCancel(record.JobID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	close(release)

	final := waitTerminal(t, fx.registry, record.JobID)
	if final.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s", final.Status)
	}
	if got := atomic.LoadInt32(&fx.separate.calls); got != 0 {
		t.Fatalf("separation must not start after cancellation, ran %d times", got)
	}
	if _, ok := fx.store.Lookup("dQw4w9WgXcQ"); ok {
		t.Fatal("cancelled run must not publish")
	}
}

func TestCancelDuringFinalizeStillTerminates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	registry := jobs.NewRegistry()

	var orch *workflow.Orchestrator
	var once sync.Once
	orch = workflow.New(cfg, registry, jobs.NewCancelRegistry(), store, workflow.Engines{
		Downloader: &fakeDownloader{},
		Analyzer:   &fakeAnalyzer{},
		Separator:  &fakeSeparator{},
	}, logging.NewNop(), workflow.WithUpdateFunc(func(r *jobs.Record) {
		// The Finalize update fires after separation and before the
		// publish commits, the narrowest window a cancel can land in.
		if r.Stage == "Finalize" {
			once.Do(func() { _ = orch.RequestCancel(r.JobID) })
		}
	}))
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer orch.Stop()

	record, err := orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: youtubeURL,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := waitTerminal(t, registry, record.JobID)
	if final.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.Progress != 100 || final.CompletedAt == nil {
		t.Fatalf("terminal record incomplete: progress=%d completedAt=%v", final.Progress, final.CompletedAt)
	}
	if _, ok, err := store.LinkFor("alice", record.JobID); err != nil || ok {
		t.Fatalf("cancelled job must not keep a usage link: ok=%v err=%v", ok, err)
	}
	if entry, ok := store.Lookup("dQw4w9WgXcQ"); ok && entry.UsageCount != 0 {
		t.Fatalf("retracted publish left usage = %d", entry.UsageCount)
	}
}

func TestLocalSourceSkipsDownload(t *testing.T) {
	fx := newFixture(t)
	source := filepath.Join(t.TempDir(), "bedroom-demo.wav")
	testsupport.WriteFile(t, source, 2048)

	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: source,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitTerminal(t, fx.registry, record.JobID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, error = %q", final.Status, final.Error)
	}
	if got := atomic.LoadInt32(&fx.download.calls); got != 0 {
		t.Fatalf("local sources must not hit the downloader, ran %d times", got)
	}
	if final.ContentID != "" {
		t.Fatalf("local source must not get a content id, got %q", final.ContentID)
	}
	meta, err := stems.ReadMetadata(fx.store.PrivateJobDir("alice", record.JobID))
	if err != nil || meta == nil {
		t.Fatalf("private output needs a metadata sidecar: meta=%v err=%v", meta, err)
	}
	if meta.DisplayName != "Bedroom Demo" {
		t.Fatalf("display name = %q", meta.DisplayName)
	}
}

func TestDurationFlowsIntoLibraryEntry(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config, engines *workflow.Engines) {
		engines.Downloader = &fakeDownloader{duration: 212}
	})
	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: youtubeURL,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitTerminal(t, fx.registry, record.JobID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, error = %q", final.Status, final.Error)
	}
	entry, ok := fx.store.Lookup("dQw4w9WgXcQ")
	if !ok {
		t.Fatal("expected library entry")
	}
	if entry.Duration != 212 {
		t.Fatalf("duration = %v, want 212", entry.Duration)
	}
}

func TestAnalysisSuppliesDurationWhenSourceLacksIt(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config, engines *workflow.Engines) {
		engines.Analyzer = &fakeAnalyzer{analysis: aubio.Analysis{Duration: 95.5}}
	})
	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: "https://example.com/mixes/demo.mp3",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitTerminal(t, fx.registry, record.JobID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, error = %q", final.Status, final.Error)
	}
	meta, err := stems.ReadMetadata(fx.store.PrivateJobDir("alice", record.JobID))
	if err != nil || meta == nil {
		t.Fatalf("missing metadata sidecar: meta=%v err=%v", meta, err)
	}
	if meta.Duration != 95.5 {
		t.Fatalf("duration = %v, want 95.5", meta.Duration)
	}
}

func TestNonCanonicalSourceStaysPrivate(t *testing.T) {
	fx := newFixture(t)
	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: "https://example.com/mixes/demo.mp3",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitTerminal(t, fx.registry, record.JobID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, error = %q", final.Status, final.Error)
	}
	if final.ContentID != "" {
		t.Fatalf("non-canonical source must not get a content id, got %q", final.ContentID)
	}

	privateDir := fx.store.PrivateJobDir("alice", record.JobID)
	meta, err := stems.ReadMetadata(privateDir)
	if err != nil || meta == nil {
		t.Fatalf("private output needs a metadata sidecar: meta=%v err=%v", meta, err)
	}
	onDisk, err := stems.ScanDir(privateDir)
	if err != nil || len(onDisk) == 0 {
		t.Fatalf("private stems missing: %v err=%v", onDisk, err)
	}
}

func TestPlanDropsStemsSilently(t *testing.T) {
	fx := newFixture(t)
	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner:     "alice",
		Plan:      "free",
		SourceRef: youtubeURL,
		Stems:     []string{"vocals", "guitar", "drums"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(record.DroppedStems) != 1 || record.DroppedStems[0] != "guitar" {
		t.Fatalf("dropped = %v", record.DroppedStems)
	}
	if len(record.Config.RequestedStems) != 2 {
		t.Fatalf("kept = %v", record.Config.RequestedStems)
	}
	waitTerminal(t, fx.registry, record.JobID)
}

func TestAutoRoutingPicksFastForComplexMixes(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config, engines *workflow.Engines) {
		engines.Analyzer = &fakeAnalyzer{analysis: aubio.Analysis{
			Instruments: []aubio.Instrument{
				{Name: "vocals", Confidence: 0.9},
				{Name: "drums", Confidence: 0.9},
				{Name: "bass", Confidence: 0.9},
				{Name: "guitar", Confidence: 0.9},
				{Name: "piano", Confidence: 0.9},
			},
		}}
	})
	record, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "studio", SourceRef: youtubeURL,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := waitTerminal(t, fx.registry, record.JobID)
	// Five instruments at 0.9 gives complexity 4.5, above the threshold.
	if final.Config.Quality != "fast" {
		t.Fatalf("quality = %q, want fast", final.Config.Quality)
	}
	if len(final.DetectedInstruments) != 5 {
		t.Fatalf("detected = %v", final.DetectedInstruments)
	}
}

type fakeActivity struct {
	events []activity.Event
	count  int
}

func (f *fakeActivity) Record(ctx context.Context, event activity.Event) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeActivity) CountSince(ctx context.Context, actor, eventType string, since time.Time) (int, error) {
	return f.count, nil
}

func TestQuotaBlocksSubmission(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	recorder := &fakeActivity{count: 3}
	orch := workflow.New(cfg, jobs.NewRegistry(), jobs.NewCancelRegistry(), store, workflow.Engines{
		Downloader: &fakeDownloader{},
		Analyzer:   &fakeAnalyzer{},
		Separator:  &fakeSeparator{},
	}, logging.NewNop(), workflow.WithActivity(recorder))
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer orch.Stop()

	_, err := orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", Plan: "free", SourceRef: youtubeURL,
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected quota validation error, got %v", err)
	}
}

func TestSubmitRequiresRunningOrchestrator(t *testing.T) {
	fx := newFixture(t)
	fx.orch.Stop()
	_, err := fx.orch.Submit(context.Background(), workflow.SubmitRequest{
		Owner: "alice", SourceRef: youtubeURL,
	})
	if !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}
