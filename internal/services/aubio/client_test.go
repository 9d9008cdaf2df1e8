package aubio_test

import (
	"context"
	"errors"
	"testing"

	"harmonix/internal/services/aubio"
)

// stubExecutor replays canned output per subcommand.
type stubExecutor struct {
	tempoLines []string
	noteLines  []string
	err        error
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	if s.err != nil {
		return s.err
	}
	lines := s.tempoLines
	if len(args) > 0 && args[0] == "notes" {
		lines = s.noteLines
	}
	for _, line := range lines {
		onLine(line)
	}
	return nil
}

func TestAnalyzeParsesTempoAndKey(t *testing.T) {
	exec := &stubExecutor{
		tempoLines: []string{"120.50 bpm"},
		noteLines: []string{
			"60.00 0.10 0.50",
			"60.00 0.60 0.90",
			"64.00 1.00 1.40",
			"43.00 0.10 2.00",
		},
	}
	client, err := aubio.New("aubio", 5, aubio.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	analysis, err := client.Analyze(context.Background(), "song.mp3")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if analysis.TempoBPM != 120.5 {
		t.Fatalf("tempo = %v, want 120.5", analysis.TempoBPM)
	}
	// Midi 60 is C and appears most often.
	if analysis.Key != "C" {
		t.Fatalf("key = %q, want C", analysis.Key)
	}
	// Duration tracks the last note offset.
	if analysis.Duration != 2.0 {
		t.Fatalf("duration = %v, want 2.0", analysis.Duration)
	}
	if len(analysis.Instruments) == 0 {
		t.Fatal("expected detected instruments")
	}
	names := map[string]float64{}
	for _, inst := range analysis.Instruments {
		names[inst.Name] = inst.Confidence
		if inst.Confidence < 0 || inst.Confidence > 1 {
			t.Fatalf("confidence out of range: %+v", inst)
		}
	}
	if _, ok := names["drums"]; !ok {
		t.Fatalf("a track with a tempo should report drums, got %v", names)
	}
	if _, ok := names["bass"]; !ok {
		t.Fatalf("low register notes should report bass, got %v", names)
	}
}

func TestAnalyzeSilentTrack(t *testing.T) {
	client, err := aubio.New("aubio", 5, aubio.WithExecutor(&stubExecutor{}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	analysis, err := client.Analyze(context.Background(), "silence.mp3")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if analysis.Key != "" {
		t.Fatalf("no notes means no key, got %q", analysis.Key)
	}
}

func TestAnalyzeReturnsExecutorError(t *testing.T) {
	client, err := aubio.New("aubio", 1, aubio.WithExecutor(&stubExecutor{err: errors.New("boom")}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := client.Analyze(context.Background(), "song.mp3"); err == nil {
		t.Fatal("expected error from executor")
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := aubio.New("  ", 1); err == nil {
		t.Fatal("expected error for empty binary")
	}
}
