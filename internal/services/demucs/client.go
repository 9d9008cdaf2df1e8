// Package demucs wraps the demucs CLI for stem separation.
package demucs

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
	"harmonix/internal/stems"
)

// Request describes one separation run.
type Request struct {
	InputPath   string
	OutputDir   string
	DisplayName string
	Quality     string
	Mode        string
}

// Separator defines the behaviour required by the processing stage.
type Separator interface {
	Separate(ctx context.Context, req Request, progress func(percent int)) (map[string]string, error)
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

// Client wraps demucs CLI interactions.
type Client struct {
	binary  string
	timeout time.Duration
	exec    runner.Executor
}

// New constructs a demucs client.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("demucs binary required")
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

// modelFor maps quality tiers onto demucs pretrained models. The studio tier
// uses the six-source model so guitar and piano come out as their own stems.
func modelFor(quality string) string {
	switch quality {
	case "fast":
		return "htdemucs_ft"
	case "studio":
		return "htdemucs_6s"
	default:
		return "htdemucs"
	}
}

var percentPattern = regexp.MustCompile(`(\d{1,3})%\|`)

// Separate runs demucs and returns the produced stems keyed by stem type,
// renamed into the library naming convention inside req.OutputDir.
func (c *Client) Separate(ctx context.Context, req Request, progress func(percent int)) (map[string]string, error) {
	if req.InputPath == "" || req.OutputDir == "" {
		return nil, errors.New("input path and output directory required")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	model := modelFor(req.Quality)
	workDir := filepath.Join(req.OutputDir, ".demucs")
	args := []string{"-n", model, "-o", workDir, "--mp3"}
	if req.Mode == "karaoke" {
		args = append(args, "--two-stems=vocals")
	}
	args = append(args, req.InputPath)

	err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		if progress == nil {
			return
		}
		if match := percentPattern.FindStringSubmatch(line); match != nil {
			if percent, convErr := strconv.Atoi(match[1]); convErr == nil {
				progress(percent)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("demucs separate: %w", err)
	}

	produced, err := collectStems(workDir, model, req)
	if err != nil {
		return nil, err
	}
	_ = os.RemoveAll(workDir)
	if len(produced) == 0 {
		return nil, errors.New("demucs produced no stems")
	}
	return produced, nil
}

// collectStems moves demucs output from its model/track layout into
// OutputDir under the library naming convention. The two-stem no_vocals
// track is published as the instrumental stem.
func collectStems(workDir, model string, req Request) (map[string]string, error) {
	track := strings.TrimSuffix(filepath.Base(req.InputPath), filepath.Ext(req.InputPath))
	trackDir := filepath.Join(workDir, model, track)
	entries, err := os.ReadDir(trackDir)
	if err != nil {
		return nil, fmt.Errorf("inspect demucs outputs: %w", err)
	}

	produced := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(entry.Name()), ".")
		stemType := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if stemType == "no_vocals" {
			stemType = "instrumental"
		}
		destName := stems.FileName(req.DisplayName, stemType, ext)
		destPath := filepath.Join(req.OutputDir, destName)
		if err := os.Rename(filepath.Join(trackDir, entry.Name()), destPath); err != nil {
			return nil, fmt.Errorf("place stem %s: %w", stemType, err)
		}
		produced[stemType] = destPath
	}
	return produced, nil
}
