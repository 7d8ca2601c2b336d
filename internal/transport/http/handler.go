package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"challenge-service/internal/app"
	"challenge-service/internal/domain"
)

// Authenticator resolves a request's bearer credential to a caller id. The
// engine never issues or validates credentials itself; that lives with the
// identity collaborator behind this interface.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// Handler exposes the challenge session engine as a JSON API.
type Handler struct {
	service *app.ChallengeService
	auth    Authenticator
	log     *logrus.Entry
}

func NewHandler(service *app.ChallengeService, auth Authenticator, log *logrus.Entry) *Handler {
	return &Handler{service: service, auth: auth, log: log}
}

// Register wires the challenge endpoints into the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /challenge-sessions/start", h.handleStart)
	mux.HandleFunc("POST /challenge-sessions/{id}/answer", h.handleAnswer)
	mux.HandleFunc("GET /challenge-sessions/{id}", h.handleGet)
	mux.HandleFunc("GET /challenge-sessions/{id}/watch", h.handleWatch)
}

type startRequest struct {
	TopicID    string `json:"topicId"`
	TopicName  string `json:"topicName"`
	Difficulty string `json:"difficulty"`
}

type answerRequest struct {
	AnswerIndex *int `json:"answerIndex"`
}

type errorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.TopicName == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "topicName is required"})
		return
	}
	difficulty, err := domain.ParseDifficulty(req.Difficulty)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "difficulty must be beginner, intermediate or advanced"})
		return
	}

	result, err := h.service.Start(r.Context(), userID, req.TopicID, req.TopicName, difficulty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"session": result})
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AnswerIndex == nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "answerIndex is required"})
		return
	}

	result, err := h.service.SubmitAnswer(r.Context(), r.PathValue("id"), userID, *req.AnswerIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticated(w, r)
	if !ok {
		return
	}

	session, err := h.service.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (h *Handler) authenticated(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid credentials"})
		return "", false
	}
	return userID, true
}

// writeError maps domain errors to the client-visible taxonomy. Internal
// failures are logged in full and surfaced as a generic message only.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var rateErr *app.RateLimitedError
	if errors.As(err, &rateErr) {
		retry := int(time.Until(rateErr.ResetAt).Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		h.writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:             "too many requests, slow down",
			RetryAfterSeconds: retry,
		})
		return
	}
	var limitErr *app.ChallengeLimitError
	if errors.As(err, &limitErr) {
		resp := errorResponse{Error: limitErr.Reason}
		if limitErr.RetryAfter > 0 {
			resp.RetryAfterSeconds = int(limitErr.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
		h.writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}

	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrNotSessionOwner):
		// Wrong-owner reads look identical to missing sessions on purpose.
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "challenge session not found"})
	case errors.Is(err, domain.ErrSessionNotActive), errors.Is(err, domain.ErrSessionConflict):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: "challenge session is not active"})
	case errors.Is(err, domain.ErrInvalidAnswer):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "answer index out of range"})
	case errors.Is(err, domain.ErrPoolUnavailable):
		h.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "could not assemble questions for this topic, try again later"})
	default:
		h.log.WithError(err).Error("challenge request failed")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.WithError(err).Warn("failed to write response")
	}
}
