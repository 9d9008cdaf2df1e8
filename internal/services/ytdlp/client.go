// Package ytdlp wraps the yt-dlp CLI for source acquisition.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"harmonix/internal/services/runner"
)

// Result describes a completed download. Duration is in seconds and zero
// when the extractor did not report one.
type Result struct {
	AudioPath string
	Title     string
	Duration  float64
}

// Downloader defines the behaviour required by the acquisition stage.
type Downloader interface {
	Download(ctx context.Context, sourceURL, destDir string, progress func(percent int)) (Result, error)
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec runner.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps yt-dlp CLI interactions.
type Client struct {
	binary  string
	timeout time.Duration
	exec    runner.Executor
}

// New constructs a yt-dlp client.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("yt-dlp binary required")
	}
	client := &Client{
		binary:  binary,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    runner.Command{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

var (
	downloadPercent = regexp.MustCompile(`\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)
	titleLine       = regexp.MustCompile(`^harmonix-title:(.*)$`)
	durationLine    = regexp.MustCompile(`^harmonix-duration:(.*)$`)
)

// Download fetches the source as mp3 into destDir. Progress percentages are
// parsed from yt-dlp's --newline download lines.
func (c *Client) Download(ctx context.Context, sourceURL, destDir string, progress func(percent int)) (Result, error) {
	if sourceURL == "" {
		return Result{}, errors.New("source url required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create download directory: %w", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	outputTemplate := filepath.Join(destDir, "source.%(ext)s")
	args := []string{
		"--newline",
		"-x", "--audio-format", "mp3",
		"--no-playlist",
		"--print", "before_dl:harmonix-title:%(title)s",
		"--print", "before_dl:harmonix-duration:%(duration)s",
		"--no-simulate",
		"-o", outputTemplate,
		sourceURL,
	}

	var title string
	var duration float64
	err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		if match := titleLine.FindStringSubmatch(line); match != nil {
			title = strings.TrimSpace(match[1])
			return
		}
		if match := durationLine.FindStringSubmatch(line); match != nil {
			// yt-dlp prints "NA" when the extractor has no duration.
			if value, parseErr := strconv.ParseFloat(strings.TrimSpace(match[1]), 64); parseErr == nil {
				duration = value
			}
			return
		}
		if progress == nil {
			return
		}
		if match := downloadPercent.FindStringSubmatch(line); match != nil {
			if percent, parseErr := strconv.ParseFloat(match[1], 64); parseErr == nil {
				progress(int(percent))
			}
		}
	})
	if err != nil {
		return Result{}, fmt.Errorf("yt-dlp download: %w", err)
	}

	audioPath := filepath.Join(destDir, "source.mp3")
	if _, statErr := os.Stat(audioPath); statErr != nil {
		return Result{}, fmt.Errorf("yt-dlp produced no audio file: %w", statErr)
	}
	return Result{AudioPath: audioPath, Title: title, Duration: duration}, nil
}
