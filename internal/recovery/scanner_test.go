package recovery_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"harmonix/internal/jobs"
	"harmonix/internal/library"
	"harmonix/internal/logging"
	"harmonix/internal/recovery"
	"harmonix/internal/stems"
)

func newStore(t *testing.T) *library.Store {
	t.Helper()
	base := t.TempDir()
	store, err := library.NewStore(
		filepath.Join(base, "outputs"),
		filepath.Join(base, "archive"),
		logging.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func writeStem(t *testing.T, dir, display, stemType, ext string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	name := stems.FileName(display, stemType, ext)
	if err := os.WriteFile(filepath.Join(dir, name), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write stem: %v", err)
	}
}

func createLinked(t *testing.T, store *library.Store, owner, jobID, contentID string) {
	t.Helper()
	dir, err := store.Create(contentID, stems.Metadata{
		SourceURL:   "https://youtu.be/" + contentID,
		DisplayName: "Song",
		Quality:     "balanced",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	writeStem(t, dir, "Song", "vocals", "mp3")
	writeStem(t, dir, "Song", "instrumental", "mp3")
	if err := store.Commit(contentID, []string{"vocals", "instrumental"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := store.Link(owner, jobID, contentID, "Song"); err != nil {
		t.Fatalf("Link: %v", err)
	}
}

func TestScanOwnerReconstructsLinkedJobs(t *testing.T) {
	store := newStore(t)
	createLinked(t, store, "alice", "job-1", "dQw4w9WgXcQ")

	scanner := recovery.NewScanner(store, logging.NewNop())
	snapshots, err := scanner.ScanOwner("alice")
	if err != nil {
		t.Fatalf("ScanOwner: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	got := snapshots[0]
	if got.JobID != "job-1" || got.Owner != "alice" {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.Status != jobs.StatusCompleted || got.Progress != 100 {
		t.Fatalf("reconstructed job must be completed at 100%%, got %s/%d", got.Status, got.Progress)
	}
	if got.ContentID != "dQw4w9WgXcQ" {
		t.Fatalf("content id not carried over: %q", got.ContentID)
	}
	if _, ok := got.Stems["vocals"]; !ok {
		t.Fatalf("stems missing from snapshot: %v", got.Stems)
	}
}

func TestScanOwnerReadsPrivateDirectories(t *testing.T) {
	store := newStore(t)
	dir := store.PrivateJobDir("bob", "job-private")
	writeStem(t, dir, "Demo", "vocals", "mp3")
	writeStem(t, dir, "Demo", "drums", "mp3")
	meta := stems.Metadata{
		SourceURL: "https://youtu.be/a1b2c3d4e5f",
		Quality:   "studio",
		Mode:      "per_instrument",
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stems.MetadataFileName), payload, 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	scanner := recovery.NewScanner(store, logging.NewNop())
	snapshots, err := scanner.ScanOwner("bob")
	if err != nil {
		t.Fatalf("ScanOwner: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	got := snapshots[0]
	if got.JobID != "job-private" {
		t.Fatalf("job id should come from the directory name, got %q", got.JobID)
	}
	if got.SourceRef != meta.SourceURL || got.Config.Quality != "studio" || got.Config.Mode != "per_instrument" {
		t.Fatalf("metadata sidecar not applied: %+v", got)
	}
	if len(got.Stems) != 2 {
		t.Fatalf("expected vocals and drums, got %v", got.Stems)
	}
}

func TestScanOwnerFallsBackToFilenames(t *testing.T) {
	store := newStore(t)
	dir := store.PrivateJobDir("bob", "job-bare")
	writeStem(t, dir, "Bare", "vocals", "mp3")
	// A stray file that does not follow the stem naming convention.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	scanner := recovery.NewScanner(store, logging.NewNop())
	snapshots, err := scanner.ScanOwner("bob")
	if err != nil {
		t.Fatalf("ScanOwner: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	if len(snapshots[0].Stems) != 1 {
		t.Fatalf("only the recognized stem should survive, got %v", snapshots[0].Stems)
	}
	if snapshots[0].CreatedAt.IsZero() {
		t.Fatal("created-at should fall back to directory mtime")
	}
}

func TestScanOwnerPrefersCompressedFormats(t *testing.T) {
	store := newStore(t)
	dir := store.PrivateJobDir("bob", "job-dup")
	writeStem(t, dir, "Dup", "vocals", "wav")
	writeStem(t, dir, "Dup", "vocals", "mp3")

	scanner := recovery.NewScanner(store, logging.NewNop())
	snapshots, err := scanner.ScanOwner("bob")
	if err != nil {
		t.Fatalf("ScanOwner: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	if filepath.Ext(snapshots[0].Stems["vocals"]) != ".mp3" {
		t.Fatalf("expected mp3 preferred over wav, got %q", snapshots[0].Stems["vocals"])
	}
}

func TestScanSkipsSharedPartition(t *testing.T) {
	store := newStore(t)
	createLinked(t, store, "alice", "job-1", "dQw4w9WgXcQ")
	dir := store.PrivateJobDir("bob", "job-2")
	writeStem(t, dir, "Other", "instrumental", "mp3")

	scanner := recovery.NewScanner(store, logging.NewNop())
	snapshots, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected one snapshot per owner, got %d", len(snapshots))
	}
	for _, snapshot := range snapshots {
		if snapshot.Owner == library.SharedOwner {
			t.Fatalf("shared partition must never produce jobs: %+v", snapshot)
		}
	}
}

func TestRestoreIsIdempotentAndPreservesLiveJobs(t *testing.T) {
	store := newStore(t)
	createLinked(t, store, "alice", "job-1", "dQw4w9WgXcQ")

	registry := jobs.NewRegistry()
	live := &jobs.Record{JobID: "job-live", Owner: "alice", Status: jobs.StatusProcessing}
	if err := registry.Create(live); err != nil {
		t.Fatalf("Create: %v", err)
	}

	scanner := recovery.NewScanner(store, logging.NewNop())
	snapshots, err := scanner.ScanOwner("alice")
	if err != nil {
		t.Fatalf("ScanOwner: %v", err)
	}
	if merged := scanner.Restore(registry, snapshots); merged != 1 {
		t.Fatalf("expected 1 merged snapshot, got %d", merged)
	}

	// A second pass over the same disk state changes nothing.
	snapshots, err = scanner.ScanOwner("alice")
	if err != nil {
		t.Fatalf("ScanOwner: %v", err)
	}
	scanner.Restore(registry, snapshots)
	if got := len(registry.List("alice")); got != 2 {
		t.Fatalf("expected live job plus one recovered job, got %d", got)
	}
	if rec, ok := registry.Get("job-live"); !ok || rec.Status != jobs.StatusProcessing {
		t.Fatal("restore must never clobber a non-terminal record")
	}

	// A snapshot with the live job's id is refused outright.
	impostor := snapshots[0].Clone()
	impostor.JobID = "job-live"
	if registry.Merge(impostor) {
		t.Fatal("merge over a processing record must be rejected")
	}
}
