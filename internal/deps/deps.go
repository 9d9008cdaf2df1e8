// Package deps verifies the external tool binaries the processing engines
// shell out to. The daemon runs the check at startup so a missing demucs
// install surfaces in the log before the first job fails.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"harmonix/internal/config"
)

// Requirement defines an external dependency harmonix relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements returns the engine binaries for the given configuration.
// Analysis is best-effort, so aubio is optional.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{
			Name:        "demucs",
			Command:     cfg.Processing.DemucsBin,
			Description: "Separates source audio into stems",
		},
		{
			Name:        "yt-dlp",
			Command:     cfg.Processing.YtdlpBin,
			Description: "Downloads source audio from URLs",
		},
		{
			Name:        "aubio",
			Command:     cfg.Processing.AubioBin,
			Description: "Detects tempo, key, and instruments",
			Optional:    true,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
