// Package control exposes the local HTTP surface used to drive and observe
// a playback session: seek, go-live, date selection, status.
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"camviewer/internal/playback"
	"camviewer/internal/render"
	"camviewer/internal/signal"
)

// Handler exposes playback session endpoints using go-chi.
type Handler struct {
	arbiter *playback.Arbiter
	session *playback.SessionController
	player  *playback.SegmentPlayer
	sink    *render.Sink
	log     *slog.Logger
}

// NewHandler returns a Handler bound to the session's components.
func NewHandler(arbiter *playback.Arbiter, session *playback.SessionController, player *playback.SegmentPlayer, sink *render.Sink, log *slog.Logger) *Handler {
	return &Handler{arbiter: arbiter, session: session, player: player, sink: sink, log: log}
}

// Routes mounts the control endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/timeline", h.GetTimeline)
	r.Get("/dates", h.GetDates)
	r.Post("/seek", h.Seek)
	r.Post("/drag", h.Drag)
	r.Post("/live", h.GoLive)
	r.Post("/date", h.SelectDate)
}

// statusResponse is the GET /status payload.
type statusResponse struct {
	Playhead playback.ArbiterSnapshot `json:"playhead"`
	Session  sessionStatus            `json:"session"`
	Player   playerStatus             `json:"player"`
	Surface  render.SinkStats         `json:"surface"`
}

type sessionStatus struct {
	Status     string `json:"status"`
	ConsumerID string `json:"consumerId,omitempty"`
	Error      string `json:"error,omitempty"`
}

type playerStatus struct {
	State             string `json:"state"`
	ConsecutiveErrors int    `json:"consecutiveErrors"`
	LastFault         string `json:"lastFault"`
	Message           string `json:"message,omitempty"`
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, sessErr := h.session.Status()
	resp := statusResponse{
		Playhead: h.arbiter.Snapshot(),
		Session: sessionStatus{
			Status:     st.String(),
			ConsumerID: h.session.ConsumerID(),
		},
		Surface: h.sink.Stats(),
	}
	if sessErr != nil {
		resp.Session.Error = sessErr.Error()
	}
	snap := h.player.Snapshot()
	resp.Player = playerStatus{
		State:             snap.State.String(),
		ConsecutiveErrors: snap.ConsecutiveErrors,
		LastFault:         snap.LastFault.String(),
		Message:           snap.Message,
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTimeline handles GET /timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.arbiter.Snapshot().Timeline)
}

// GetDates handles GET /dates.
func (h *Handler) GetDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.arbiter.Dates(r.Context())
	if err != nil {
		h.log.Error("list recording dates failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "recording dates unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// Seek handles POST /seek. Body: { "position": "2026-01-02T15:04:05Z" }.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Position time.Time `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Position.IsZero() {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.arbiter.Seek(body.Position)
	writeJSON(w, http.StatusOK, h.arbiter.Snapshot())
}

// Drag handles POST /drag. Body: { "active": true }.
func (h *Handler) Drag(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if body.Active {
		h.arbiter.BeginDrag()
	} else {
		h.arbiter.EndDrag()
	}
	w.WriteHeader(http.StatusNoContent)
}

// GoLive handles POST /live.
func (h *Handler) GoLive(w http.ResponseWriter, r *http.Request) {
	h.arbiter.GoLive()
	writeJSON(w, http.StatusOK, h.arbiter.Snapshot())
}

// SelectDate handles POST /date.
// Body: { "date": "20260102", "start": 3600, "end": 7200 } with start/end
// in seconds from midnight, both optional.
func (h *Handler) SelectDate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date  string `json:"date"`
		Start int    `json:"start"`
		End   int    `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Date == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("20060102", body.Date); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.arbiter.SelectRange(signal.SourceFilter{
		Date:      body.Date,
		StartTime: time.Duration(body.Start) * time.Second,
		EndTime:   time.Duration(body.End) * time.Second,
	})
	writeJSON(w, http.StatusOK, h.arbiter.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
