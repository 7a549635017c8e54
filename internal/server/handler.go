// Package server exposes the session engine as a JSON resource API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/rcliao/story-engine/internal/errors"
	"github.com/rcliao/story-engine/internal/logging"
	"github.com/rcliao/story-engine/internal/model"
)

const maxBodyBytes = 1 << 20

// Sessions is the engine surface the API serves.
type Sessions interface {
	Create(ctx context.Context) (*model.Detail, error)
	Get(ctx context.Context, id string) (*model.Detail, error)
	Configure(ctx context.Context, id string, cfg model.Config) (*model.Detail, error)
	Lock(ctx context.Context, id string) (*model.Detail, error)
	SubmitPrompt(ctx context.Context, id string, slot int, text string) (*model.Detail, error)
	EndChapter(ctx context.Context, id string) (*model.Detail, error)
	SaveNarrativeAgent(ctx context.Context, id, text string) (*model.Detail, error)
	BuildNarrative(ctx context.Context, id string) (*model.Detail, error)
	Reset(ctx context.Context, id string) (*model.Detail, error)
}

type handler struct {
	sessions Sessions
	logger   *zap.Logger
}

type promptRequest struct {
	AgentSlot int    `json:"agent_slot"`
	UserText  string `json:"user_text"`
}

type narrativeAgentRequest struct {
	Text string `json:"narrative_agent_definition_text"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

// NewHandler returns the routed API with request logging.
func NewHandler(sessions Sessions, logger *zap.Logger) http.Handler {
	h := &handler{sessions: sessions, logger: logging.OrNop(logger)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("POST /session", h.create)
	mux.HandleFunc("GET /session/{id}", h.get)
	mux.HandleFunc("PUT /session/{id}/tab1", h.configure)
	mux.HandleFunc("POST /session/{id}/lock", h.simple(Sessions.Lock))
	mux.HandleFunc("POST /session/{id}/prompt", h.prompt)
	mux.HandleFunc("POST /session/{id}/end", h.simple(Sessions.EndChapter))
	mux.HandleFunc("PUT /session/{id}/narrative-agent", h.narrativeAgent)
	mux.HandleFunc("POST /session/{id}/build-narrative", h.simple(Sessions.BuildNarrative))
	mux.HandleFunc("POST /session/{id}/reset", h.simple(Sessions.Reset))

	return withLogging(mux, h.logger)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	d, err := h.sessions.Create(r.Context())
	h.respond(w, http.StatusCreated, d, err)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusOK, d, err)
}

func (h *handler) configure(w http.ResponseWriter, r *http.Request) {
	var cfg model.Config
	if err := decode(w, r, &cfg); err != nil {
		h.writeError(w, err)
		return
	}
	d, err := h.sessions.Configure(r.Context(), r.PathValue("id"), cfg)
	h.respond(w, http.StatusOK, d, err)
}

func (h *handler) prompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	d, err := h.sessions.SubmitPrompt(r.Context(), r.PathValue("id"), req.AgentSlot, req.UserText)
	h.respond(w, http.StatusOK, d, err)
}

func (h *handler) narrativeAgent(w http.ResponseWriter, r *http.Request) {
	var req narrativeAgentRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	d, err := h.sessions.SaveNarrativeAgent(r.Context(), r.PathValue("id"), req.Text)
	h.respond(w, http.StatusOK, d, err)
}

// simple adapts a bodiless transition.
func (h *handler) simple(op func(Sessions, context.Context, string) (*model.Detail, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := op(h.sessions, r.Context(), r.PathValue("id"))
		h.respond(w, http.StatusOK, d, err)
	}
}

func (h *handler) respond(w http.ResponseWriter, status int, d *model.Detail, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, status, d)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	msg := err.Error()
	if code == apperrors.CodeUnknown {
		h.logger.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperrors.Newf(apperrors.CodeValidation, "request body exceeds %d bytes", maxBodyBytes)
		case errors.Is(err, io.EOF):
			return apperrors.New(apperrors.CodeValidation, "request body is empty")
		default:
			return apperrors.Wrap(apperrors.CodeValidation, "malformed JSON body", err)
		}
	}
	if dec.More() {
		return apperrors.New(apperrors.CodeValidation, "request body must contain a single JSON object")
	}
	return nil
}

// writeJSON writes JSON responses with a consistent content type.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
