package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"

	"harmonix/internal/apiclient"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusColor(status string) string {
	switch status {
	case "completed":
		return ansiGreen
	case "failed":
		return ansiRed
	case "cancelled", "cancelling":
		return ansiYellow
	case "queued":
		return ansiBlue
	default:
		return ""
	}
}

func renderStatus(status string, colorize bool) string {
	if !colorize {
		return status
	}
	if color := statusColor(status); color != "" {
		return color + status + ansiReset
	}
	return status
}

func renderJobsTable(jobs []apiclient.Job, colorize bool) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.JobID,
			renderStatus(job.Status, colorize),
			fmt.Sprintf("%d%%", job.Progress),
			job.Quality,
			job.Mode,
			truncate(job.SourceURL, 48),
		})
	}
	return renderTable(
		[]string{"JOB", "STATUS", "PROGRESS", "QUALITY", "MODE", "SOURCE"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func renderJobDetail(out io.Writer, job *apiclient.Job, colorize bool) {
	fmt.Fprintf(out, "Job:      %s\n", job.JobID)
	fmt.Fprintf(out, "Status:   %s\n", renderStatus(job.Status, colorize))
	fmt.Fprintf(out, "Progress: %d%%\n", job.Progress)
	if job.Stage != "" {
		fmt.Fprintf(out, "Stage:    %s\n", job.Stage)
	}
	if job.SourceURL != "" {
		fmt.Fprintf(out, "Source:   %s\n", job.SourceURL)
	}
	if job.Quality != "" {
		fmt.Fprintf(out, "Quality:  %s\n", job.Quality)
	}
	if job.Mode != "" {
		fmt.Fprintf(out, "Mode:     %s\n", job.Mode)
	}
	if job.ContentID != "" {
		fmt.Fprintf(out, "Content:  %s\n", job.ContentID)
	}
	if len(job.DetectedInstruments) > 0 {
		fmt.Fprintf(out, "Detected: %s\n", strings.Join(job.DetectedInstruments, ", "))
	}
	if len(job.DroppedStems) > 0 {
		fmt.Fprintf(out, "Dropped:  %s\n", strings.Join(job.DroppedStems, ", "))
	}
	if job.ProcessingTime > 0 {
		fmt.Fprintf(out, "Took:     %.1fs\n", job.ProcessingTime)
	}
	if job.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", job.Error)
	}
	if len(job.Stems) > 0 {
		fmt.Fprintln(out, "Stems:")
		names := make([]string, 0, len(job.Stems))
		for name := range job.Stems {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-12s %s\n", name, job.Stems[name])
		}
	}
}

func truncate(value string, max int) string {
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
