// Package http serves the dashboard's read surface: the latest view over REST,
// a websocket stream of views, and the two user intents (chat, microphone).
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voice-agent-dashboard/internal/app"
	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/schema"
	"voice-agent-dashboard/internal/session"
)

// Sessions is the controller surface the router needs.
type Sessions interface {
	Connect(ctx context.Context) (*session.Session, error)
	Disconnect()
	Session() (*session.Session, error)
	Status() session.Status
	Variant() models.Variant
}

type handlers struct {
	app      *app.Application
	sessions Sessions
	schemas  *schema.Registry
}

// NewRouter constructs the HTTP router for the dashboard.
func NewRouter(application *app.Application, sessions Sessions, schemas *schema.Registry) http.Handler {
	h := &handlers{app: application, sessions: sessions, schemas: schemas}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.Get("/readiness", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})

		r.Get("/session", h.getSession)
		r.Post("/session/connect", h.connect)
		r.Post("/session/disconnect", h.disconnect)

		r.Get("/transcript", h.getTranscript)
		r.Get("/state", h.getState)
		r.Get("/speaking", h.getSpeaking)
		r.Get("/schema", h.getSchema)

		r.Post("/chat", h.postChat)
		r.Post("/microphone/toggle", h.toggleMicrophone)

		r.Get("/ws", h.streamViews)
	})

	return r
}

type sessionResponse struct {
	Status session.Status `json:"status"`
	View   *session.View  `json:"view,omitempty"`
	Uptime string         `json:"uptime,omitempty"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Turn  models.Turn `json:"turn"`
	Error string      `json:"error,omitempty"`
}

func (h *handlers) getSession(w http.ResponseWriter, _ *http.Request) {
	resp := sessionResponse{Status: h.sessions.Status()}
	if h.app != nil {
		resp.Uptime = h.app.Uptime().String()
	}
	if s, err := h.sessions.Session(); err == nil {
		resp.View = s.View()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.Connect(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, sessionResponse{Status: h.sessions.Status()})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Status: h.sessions.Status()})
}

func (h *handlers) disconnect(w http.ResponseWriter, _ *http.Request) {
	h.sessions.Disconnect()
	writeJSON(w, http.StatusOK, sessionResponse{Status: h.sessions.Status()})
}

func (h *handlers) getTranscript(w http.ResponseWriter, _ *http.Request) {
	s, err := h.sessions.Session()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View().Transcript)
}

// getState renders the state panel. Without a session or an agent it is the
// placeholder: connected false, state null.
func (h *handlers) getState(w http.ResponseWriter, _ *http.Request) {
	s, err := h.sessions.Session()
	if err != nil {
		writeJSON(w, http.StatusOK, session.StateView{Variant: h.sessions.Variant()})
		return
	}
	writeJSON(w, http.StatusOK, s.View().StateView())
}

func (h *handlers) getSpeaking(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]bool{"agentConnected": false, "agentSpeaking": false}
	if s, err := h.sessions.Session(); err == nil {
		v := s.View()
		resp["agentConnected"] = v.AgentConnected
		resp["agentSpeaking"] = v.AgentSpeaking
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getSchema(w http.ResponseWriter, _ *http.Request) {
	raw, err := h.schemas.JSON(h.sessions.Variant())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *handlers) postChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	s, err := h.sessions.Session()
	if err != nil {
		writeError(w, err)
		return
	}

	turn, err := s.SendText(r.Context(), req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, chatResponse{Turn: turn})
	case errors.Is(err, session.ErrSendFailed):
		// The turn is already in the transcript.
		writeJSON(w, http.StatusBadGateway, chatResponse{Turn: turn, Error: err.Error()})
	default:
		writeError(w, err)
	}
}

func (h *handlers) toggleMicrophone(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Session()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ToggleMicrophone(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"microphoneEnabled": s.View().MicrophoneEnabled})
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotConnected):
		code = http.StatusConflict
	case errors.Is(err, session.ErrSessionClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrEmptyMessage):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownVariant):
		code = http.StatusNotFound
	}
	writeJSON(w, code, errorBody(err.Error()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
