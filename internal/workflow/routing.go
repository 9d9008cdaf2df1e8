package workflow

import "harmonix/internal/services/aubio"

// defaultStems maps a separation mode onto the stem set it produces when the
// caller does not name stems explicitly.
func defaultStems(mode string) []string {
	switch mode {
	case "karaoke":
		return []string{"vocals", "instrumental"}
	case "per_instrument":
		return []string{"vocals", "drums", "bass", "guitar", "piano", "other"}
	default:
		return []string{"vocals", "drums", "bass", "other"}
	}
}

// routeQuality picks a quality tier from the analysis when the caller left
// it open. Complexity is the detected-instrument count scaled by the mean
// confidence; busy mixes route to the fast model so wall-clock time stays
// bounded, simple ones get the balanced model.
func routeQuality(instruments []aubio.Instrument, threshold float64) string {
	if threshold <= 0 {
		threshold = 4.0
	}
	if complexity(instruments) > threshold {
		return "fast"
	}
	return "balanced"
}

func complexity(instruments []aubio.Instrument) float64 {
	if len(instruments) == 0 {
		return 0
	}
	total := 0.0
	for _, inst := range instruments {
		total += inst.Confidence
	}
	mean := total / float64(len(instruments))
	return float64(len(instruments)) * mean
}
