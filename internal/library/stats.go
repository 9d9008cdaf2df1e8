package library

import (
	"os"
	"path/filepath"

	"harmonix/internal/fileutil"
	"harmonix/internal/services"
	"harmonix/internal/stems"
)

// Stats aggregates entry counts, total size, and a usage histogram.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{UsageHistogram: map[string]int{"unused": 0, "low": 0, "medium": 0, "high": 0}}

	sharedDir := filepath.Join(s.root, SharedOwner)
	dirEntries, err := os.ReadDir(sharedDir)
	if err != nil {
		return Stats{}, services.Wrap(services.ErrUpstreamFailure, "library", "stats", "read shared directory", err)
	}
	for _, dirent := range dirEntries {
		if !dirent.IsDir() {
			continue
		}
		itemDir := filepath.Join(sharedDir, dirent.Name())
		meta, err := stems.ReadMetadata(itemDir)
		if err != nil || meta == nil || State(meta.State) != StateActive {
			continue
		}
		out.TotalEntries++
		out.TotalUsage += meta.UsageCount
		if size, err := fileutil.DirSize(itemDir); err == nil {
			out.TotalSizeBytes += size
		}
		switch {
		case meta.UsageCount == 0:
			out.UsageHistogram["unused"]++
		case meta.UsageCount < 3:
			out.UsageHistogram["low"]++
		case meta.UsageCount < 10:
			out.UsageHistogram["medium"]++
		default:
			out.UsageHistogram["high"]++
		}
	}
	if out.TotalEntries > 0 {
		out.AverageUsage = float64(out.TotalUsage) / float64(out.TotalEntries)
	}

	archived, err := s.archivedLocked()
	if err == nil {
		out.ArchivedCount = len(archived)
	}
	return out, nil
}
