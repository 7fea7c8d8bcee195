package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/viewer"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleAlive reports that the process is up.
func (h *Handlers) HandleAlive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleHealthz pings the database when one is configured.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func pageStatus(s viewer.Status) int {
	switch s {
	case viewer.StatusOK:
		return http.StatusOK
	case viewer.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writePage(w http.ResponseWriter, r *http.Request, p viewer.Page) {
	if p.Status != viewer.StatusOK {
		h.logger.Debug("viewer page not ok", slog.String("path", r.URL.Path),
			slog.String("status", p.Status.String()), slog.String("reason", p.Reason))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(pageStatus(p.Status))
	_, _ = w.Write(p.HTML)
}

// HandleView renders the listing, or one archive when ?channel= names it.
func (h *Handlers) HandleView(w http.ResponseWriter, r *http.Request) {
	if ref := r.URL.Query().Get("channel"); ref != "" {
		h.writePage(w, r, h.viewer.DetailView(r.Context(), archive.Ref(ref)))
		return
	}
	h.writePage(w, r, h.viewer.ListView(r.Context()))
}

// HandleLog renders one archive.
func (h *Handlers) HandleLog(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, r, h.viewer.DetailView(r.Context(), archive.Ref(chi.URLParam(r, "ref"))))
}

// HandleArchives returns the listing as JSON.
func (h *Handlers) HandleArchives(w http.ResponseWriter, r *http.Request) {
	groups, err := h.viewer.Listing(r.Context())
	if err != nil {
		h.logger.Error("list archives", slog.Any("err", err))
		http.Error(w, "failed to list archives", http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []viewer.ChannelGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// HandleRaw serves an archive file byte for byte.
func (h *Handlers) HandleRaw(w http.ResponseWriter, r *http.Request) {
	ref := archive.Ref(chi.URLParam(r, "filename"))
	f, info, err := h.files.Open(ref)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("open archive", slog.String("ref", string(ref)), slog.Any("err", err))
		http.Error(w, "failed to read archive", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/json")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
