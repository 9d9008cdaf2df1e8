package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]Job{})
	}))
	defer server.Close()

	client := New(server.URL, "secret-token")
	if _, err := client.Jobs(context.Background()); err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestClientAddsHTTPScheme(t *testing.T) {
	client := New("127.0.0.1:8937", "")
	if client.baseURL != "http://127.0.0.1:8937" {
		t.Fatalf("unexpected base url %q", client.baseURL)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "api: job: not your job",
			"kind":  "permission_denied",
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	_, err := client.Job(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Kind != "permission_denied" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if apiErr.Error() != "api: job: not your job" {
		t.Fatalf("unexpected message %q", apiErr.Error())
	}
}

func TestClientSubmitRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Job{JobID: "job-42", Status: "queued", SourceURL: req.SourceURL})
	}))
	defer server.Close()

	client := New(server.URL, "")
	job, err := client.Submit(context.Background(), SubmitRequest{SourceURL: "https://example.com/track"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.JobID != "job-42" || job.SourceURL != "https://example.com/track" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestClientUploadSendsMultipart(t *testing.T) {
	source := filepath.Join(t.TempDir(), "demo.wav")
	if err := os.WriteFile(source, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs/upload" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			file.Close()
			if header.Filename != "demo.wav" {
				t.Errorf("filename = %q", header.Filename)
			}
		}
		if got := r.FormValue("quality"); got != "fast" {
			t.Errorf("quality = %q", got)
		}
		if got := r.FormValue("stems"); got != "vocals,drums" {
			t.Errorf("stems = %q", got)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Job{JobID: "job-7", Status: "queued"})
	}))
	defer server.Close()

	client := New(server.URL, "secret-token")
	job, err := client.Upload(context.Background(), source, SubmitRequest{
		Quality: "fast",
		Stems:   []string{"vocals", "drums"},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if job.JobID != "job-7" {
		t.Fatalf("unexpected job %+v", job)
	}
}
