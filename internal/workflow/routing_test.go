package workflow

import (
	"testing"

	"harmonix/internal/services/aubio"
)

func TestRouteQuality(t *testing.T) {
	simple := []aubio.Instrument{
		{Name: "vocals", Confidence: 0.8},
		{Name: "other", Confidence: 0.4},
	}
	busy := []aubio.Instrument{
		{Name: "vocals", Confidence: 0.9},
		{Name: "drums", Confidence: 0.9},
		{Name: "bass", Confidence: 0.8},
		{Name: "guitar", Confidence: 0.9},
		{Name: "piano", Confidence: 0.7},
		{Name: "other", Confidence: 0.8},
	}
	if got := routeQuality(simple, 4.0); got != "balanced" {
		t.Fatalf("simple mix routed to %q", got)
	}
	if got := routeQuality(busy, 4.0); got != "fast" {
		t.Fatalf("busy mix routed to %q", got)
	}
	if got := routeQuality(nil, 4.0); got != "balanced" {
		t.Fatalf("no analysis routed to %q", got)
	}
	// Threshold zero falls back to the default.
	if got := routeQuality(busy, 0); got != "fast" {
		t.Fatalf("default threshold routed to %q", got)
	}
}

func TestDefaultStems(t *testing.T) {
	if got := defaultStems("karaoke"); len(got) != 2 || got[1] != "instrumental" {
		t.Fatalf("karaoke stems = %v", got)
	}
	if got := defaultStems("per_instrument"); len(got) != 6 {
		t.Fatalf("per_instrument stems = %v", got)
	}
	if got := defaultStems("grouped"); len(got) != 4 {
		t.Fatalf("grouped stems = %v", got)
	}
}
