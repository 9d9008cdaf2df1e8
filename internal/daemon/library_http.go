package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type archivePayload struct {
	Reason string `json:"reason,omitempty"`
}

func (d *Daemon) libraryList(w http.ResponseWriter, r *http.Request) {
	entries, err := d.api.LibraryEntries(identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (d *Daemon) libraryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.api.LibraryStats(identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (d *Daemon) libraryArchived(w http.ResponseWriter, r *http.Request) {
	entries, err := d.api.ArchivedEntries(identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (d *Daemon) libraryArchive(w http.ResponseWriter, r *http.Request) {
	var payload archivePayload
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	err := d.api.ArchiveContent(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (d *Daemon) libraryRestore(w http.ResponseWriter, r *http.Request) {
	err := d.api.RestoreContent(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (d *Daemon) libraryPurge(w http.ResponseWriter, r *http.Request) {
	confirm := r.URL.Query().Get("confirm") == "true"
	preview, err := d.api.PurgeContent(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), confirm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
