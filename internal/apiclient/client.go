// Package apiclient is the HTTP client the CLI uses to talk to a running
// harmonix daemon.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// APIError is a non-2xx daemon response decoded into its error envelope.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned HTTP %d", e.StatusCode)
}

// Client provides typed access to the daemon API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New constructs a client for the given base URL. A bare host:port is
// treated as http.
func New(baseURL, token string) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed != "" && !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	return &Client{
		baseURL: trimmed,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			apiErr.Message = envelope.Error
			apiErr.Kind = envelope.Kind
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Submit enqueues a new separation job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Upload streams a local audio file to the daemon as a direct-upload job.
func (c *Client) Upload(ctx context.Context, filePath string, req SubmitRequest) (*Job, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	fields := map[string]string{
		"quality": req.Quality,
		"mode":    req.Mode,
		"stems":   strings.Join(req.Stems, ","),
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("encode upload: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jobs/upload", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			apiErr.Message = envelope.Error
			apiErr.Kind = envelope.Kind
		}
		return nil, apiErr
	}
	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &job, nil
}

// Jobs lists the caller's jobs, or every job for admins.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Job fetches one job by id.
func (c *Client) Job(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel requests cooperative cancellation of a running job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil)
}

// Delete removes a job record and the caller's claim on its output.
func (c *Client) Delete(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(jobID), nil, nil)
}

// LibraryEntries lists committed library entries. Admin only.
func (c *Client) LibraryEntries(ctx context.Context) ([]LibraryEntry, error) {
	var entries []LibraryEntry
	if err := c.do(ctx, http.MethodGet, "/api/library", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// LibraryStats returns aggregate library counts. Admin only.
func (c *Client) LibraryStats(ctx context.Context) (*LibraryStats, error) {
	var stats LibraryStats
	if err := c.do(ctx, http.MethodGet, "/api/library/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ArchivedEntries lists archived library entries. Admin only.
func (c *Client) ArchivedEntries(ctx context.Context) ([]ArchivedEntry, error) {
	var entries []ArchivedEntry
	if err := c.do(ctx, http.MethodGet, "/api/library/archived", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Archive moves a library entry into the archive partition. Admin only.
func (c *Client) Archive(ctx context.Context, contentID, reason string) error {
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.do(ctx, http.MethodPost, "/api/library/"+url.PathEscape(contentID)+"/archive", body, nil)
}

// Restore moves an archived entry back into active storage. Admin only.
func (c *Client) Restore(ctx context.Context, contentID string) error {
	return c.do(ctx, http.MethodPost, "/api/library/"+url.PathEscape(contentID)+"/restore", nil, nil)
}

// Purge permanently deletes an archived entry. With confirm false the
// daemon returns a preview of what would be removed.
func (c *Client) Purge(ctx context.Context, contentID string, confirm bool) (*DeletePreview, error) {
	path := "/api/library/" + url.PathEscape(contentID)
	if confirm {
		path += "?confirm=true"
	}
	var preview DeletePreview
	if err := c.do(ctx, http.MethodDelete, path, nil, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}
