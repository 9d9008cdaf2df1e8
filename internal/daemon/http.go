package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"harmonix/internal/jobs"
	"harmonix/internal/logging"
	"harmonix/internal/services"
	"harmonix/internal/workflow"
)

type submitPayload struct {
	SourceURL string   `json:"source_url"`
	Quality   string   `json:"quality,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Stems     []string `json:"stems,omitempty"`
}

type jobView struct {
	JobID               string            `json:"job_id"`
	Owner               string            `json:"owner,omitempty"`
	Status              string            `json:"status"`
	Progress            int               `json:"progress"`
	Stage               string            `json:"stage,omitempty"`
	SourceURL           string            `json:"source_url,omitempty"`
	ContentID           string            `json:"content_id,omitempty"`
	Quality             string            `json:"quality,omitempty"`
	Mode                string            `json:"mode,omitempty"`
	Stems               map[string]string `json:"stems,omitempty"`
	DroppedStems        []string          `json:"dropped_stems,omitempty"`
	DetectedInstruments []string          `json:"detected_instruments,omitempty"`
	Error               string            `json:"error,omitempty"`
	ProcessingTime      float64           `json:"processing_time_seconds,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
}

func viewFor(record *jobs.Record) jobView {
	return jobView{
		JobID:               record.JobID,
		Owner:               record.Owner,
		Status:              string(record.Status),
		Progress:            record.Progress,
		Stage:               record.Stage,
		SourceURL:           record.SourceRef,
		ContentID:           record.ContentID,
		Quality:             record.Config.Quality,
		Mode:                record.Config.Mode,
		Stems:               record.Stems,
		DroppedStems:        record.DroppedStems,
		DetectedInstruments: record.DetectedInstruments,
		Error:               record.Error,
		ProcessingTime:      record.ProcessingTime,
		CreatedAt:           record.CreatedAt,
		CompletedAt:         record.CompletedAt,
	}
}

func (d *Daemon) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(authMiddleware(d.cfg.Auth.Tokens))

	r.Get("/healthz", d.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", d.submitJob)
		r.Post("/jobs/upload", d.uploadJob)
		r.Get("/jobs", d.listJobs)
		r.Get("/jobs/{id}", d.getJob)
		r.Post("/jobs/{id}/cancel", d.cancelJob)
		r.Delete("/jobs/{id}", d.deleteJob)

		r.Get("/library", d.libraryList)
		r.Get("/library/stats", d.libraryStats)
		r.Get("/library/archived", d.libraryArchived)
		r.Post("/library/{id}/archive", d.libraryArchive)
		r.Post("/library/{id}/restore", d.libraryRestore)
		r.Delete("/library/{id}", d.libraryPurge)
	})

	r.Get("/ws/jobs/{id}", d.jobSocket)
	return r
}

func (d *Daemon) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Daemon) submitJob(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, services.Wrap(services.ErrValidation, "daemon", "submit", "invalid request body", err))
		return
	}
	ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	record, err := d.orchestrator.Submit(ctx, workflow.SubmitRequest{
		Owner:     identity.User,
		Plan:      identity.Plan,
		SourceRef: payload.SourceURL,
		Quality:   payload.Quality,
		Mode:      payload.Mode,
		Stems:     payload.Stems,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewFor(record))
}

// uploadJob accepts a multipart audio upload and submits it as a local
// source, which skips the download stage.
func (d *Daemon) uploadJob(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, services.Wrap(services.ErrValidation, "daemon", "upload", "multipart field \"file\" is required", err))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	dir := filepath.Join(d.cfg.Paths.StagingDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, services.Wrap(services.ErrUpstreamFailure, "daemon", "upload", "create upload directory", err))
		return
	}
	dest := filepath.Join(dir, uuid.NewString()+"_"+name)
	out, err := os.Create(dest)
	if err != nil {
		writeError(w, services.Wrap(services.ErrUpstreamFailure, "daemon", "upload", "store upload", err))
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dest)
		writeError(w, services.Wrap(services.ErrUpstreamFailure, "daemon", "upload", "store upload", err))
		return
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		writeError(w, services.Wrap(services.ErrUpstreamFailure, "daemon", "upload", "store upload", err))
		return
	}

	var requested []string
	for _, stem := range strings.Split(r.FormValue("stems"), ",") {
		if stem = strings.TrimSpace(stem); stem != "" {
			requested = append(requested, stem)
		}
	}

	ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	record, err := d.orchestrator.Submit(ctx, workflow.SubmitRequest{
		Owner:     identity.User,
		Plan:      identity.Plan,
		SourceRef: dest,
		Quality:   r.FormValue("quality"),
		Mode:      r.FormValue("mode"),
		Stems:     requested,
	})
	if err != nil {
		os.Remove(dest)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewFor(record))
}

func (d *Daemon) listJobs(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	records := d.api.Jobs(identity)
	views := make([]jobView, 0, len(records))
	for _, record := range records {
		views = append(views, viewFor(record))
	}
	writeJSON(w, http.StatusOK, views)
}

func (d *Daemon) getJob(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	record, err := d.api.Job(identity, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewFor(record))
}

func (d *Daemon) cancelJob(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if err := d.api.Cancel(identity, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (d *Daemon) deleteJob(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if err := d.api.Delete(r.Context(), identity, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) jobSocket(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	jobID := chi.URLParam(r, "id")
	snapshot, err := d.api.Job(identity, jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	sub := d.hub.Subscribe(jobID, conn, snapshot)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	d.hub.Unsubscribe(sub)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the sentinel taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, services.ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, services.ErrUpstreamFailure):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  services.Kind(err),
	})
}
