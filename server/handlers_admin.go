package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/db"
	"github.com/onnwee/chat-archiver/platform"
	"github.com/onnwee/chat-archiver/scheduler"
	"github.com/onnwee/chat-archiver/telemetry"
)

// errorStatus maps the archive error taxonomy onto HTTP codes.
func errorStatus(err error) int {
	if errors.Is(err, platform.ErrUnknownChannel) {
		return http.StatusNotFound
	}
	switch archive.Classify(err) {
	case archive.ClassNotFound:
		return http.StatusNotFound
	case archive.ClassConfig:
		return http.StatusBadRequest
	case archive.ClassCollection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleAdminBackup backs up ?channel= immediately and announces it.
func (h *Handlers) HandleAdminBackup(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}
	ref, err := h.backups.BackupChannel(r.Context(), channel)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("manual backup failed",
			slog.String("channel_id", channel), slog.Any("err", err), slog.String("component", "http"))
		writeJSON(w, errorStatus(err), map[string]string{
			"error": err.Error(),
			"class": archive.Classify(err).String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ref": string(ref),
		"url": h.viewer.Links().DetailURL(ref),
	})
}

// HandleAdminInterval sets the sweep interval from {"minutes": n}.
func (h *Handlers) HandleAdminInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes *int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Minutes == nil {
		http.Error(w, "invalid json: expected {\"minutes\": n}", http.StatusBadRequest)
		return
	}
	if err := h.backups.SetIntervalMinutes(*req.Minutes); err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAdminDeleteAll removes every stored archive.
func (h *Handlers) HandleAdminDeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.files.DeleteAll(r.Context())
	if err != nil {
		h.logger.Error("delete all archives", slog.Any("err", err))
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("archives deleted", slog.Int("deleted", n), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// HandleAdminSweep starts a sweep in the background. The sweep runs under
// the server context so it outlives the request.
func (h *Handlers) HandleAdminSweep(w http.ResponseWriter, r *http.Request) {
	if !h.backups.SweepAsync(h.ctx) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "sweep in progress"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type sweepJSON struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Archived   int       `json:"archived"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

func summaryJSON(s scheduler.SweepSummary) sweepJSON {
	out := sweepJSON{
		ID:         s.ID,
		Trigger:    string(s.Trigger),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Archived:   s.Archived(),
		Failed:     s.Failed(),
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return out
}

// HandleAdminStatus reports scheduler state and, with a database, the sweep log.
func (h *Handlers) HandleAdminStatus(w http.ResponseWriter, r *http.Request) {
	st := h.backups.Status()
	out := map[string]any{
		"interval_minutes": int(st.Interval / time.Minute),
		"sweeping":         st.Sweeping,
		"running":          st.Running,
	}
	if st.LastSweep != nil {
		out["last_sweep"] = summaryJSON(*st.LastSweep)
	}
	if h.db != nil {
		recs, err := db.RecentSweeps(r.Context(), h.db, 10)
		if err != nil {
			h.logger.Warn("load sweep log", slog.Any("err", err))
		} else {
			recent := make([]sweepJSON, 0, len(recs))
			for _, rec := range recs {
				recent = append(recent, sweepJSON{
					ID: rec.ID, Trigger: rec.Trigger, StartedAt: rec.StartedAt, FinishedAt: rec.FinishedAt,
					Archived: rec.Archived, Failed: rec.Failed, Error: rec.Error,
				})
			}
			out["recent_sweeps"] = recent
		}
		if last, err := db.GetKV(r.Context(), h.db, db.KeySweepLast); err == nil && last != "" {
			out[db.KeySweepLast] = last
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type channelJSON struct {
	ChannelID string `json:"channel_id"`
	OK        bool   `json:"ok"`
	Ref       string `json:"ref,omitempty"`
	URL       string `json:"url,omitempty"`
	Messages  int    `json:"messages"`
	Error     string `json:"error,omitempty"`
}

// HandleAdminSweepDetail lists the per-channel results recorded for one sweep.
func (h *Handlers) HandleAdminSweepDetail(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "sweep log not configured", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	recs, err := db.SweepChannels(r.Context(), h.db, id)
	if err != nil {
		h.logger.Warn("load sweep channels", slog.String("sweep_id", id), slog.Any("err", err))
		http.Error(w, "failed to load sweep", http.StatusInternalServerError)
		return
	}
	if len(recs) == 0 {
		http.Error(w, "sweep not found", http.StatusNotFound)
		return
	}
	out := make([]channelJSON, 0, len(recs))
	for _, c := range recs {
		cj := channelJSON{ChannelID: c.ChannelID, OK: c.OK, Ref: c.Ref, Messages: c.Messages, Error: c.Error}
		if c.Ref != "" {
			cj.URL = h.viewer.Links().DetailURL(archive.Ref(c.Ref))
		}
		out = append(out, cj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "channels": out})
}
