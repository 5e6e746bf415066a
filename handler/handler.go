package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"english-tutor/internal/domain"
	"english-tutor/internal/observability"
	"english-tutor/internal/usecase"
)

const (
	serviceName  = "english-tutor"
	maxBodyBytes = 1 << 20
)

// SessionService is the use-case surface the HTTP layer depends on.
type SessionService interface {
	SubmitMessage(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	CreateSession(ctx context.Context, in usecase.CreateSessionInput) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context, in usecase.ListSessionsInput) ([]domain.Session, error)
	RenameSession(ctx context.Context, id, title string) (domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Handler serves the tutor API both as a net/http handler and as an API
// Gateway proxy Lambda handler. Both paths share one chi router.
type Handler struct {
	svc         SessionService
	logger      *slog.Logger
	metrics     *observability.Metrics
	corsOrigins []string
	version     string
	router      http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger; nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records request and chat-turn metrics into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithCORSOrigins sets the allowed browser origins; "*" allows any origin.
func WithCORSOrigins(origins []string) Option {
	return func(h *Handler) {
		h.corsOrigins = origins
	}
}

// WithVersion sets the version reported by GET /.
func WithVersion(v string) Option {
	return func(h *Handler) {
		if v = strings.TrimSpace(v); v != "" {
			h.version = v
		}
	}
}

// NewHandler builds the router around svc.
func NewHandler(svc SessionService, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: session service must not be nil")
	}
	h := &Handler{
		svc:         svc,
		logger:      slog.Default(),
		corsOrigins: []string{"*"},
		version:     "dev",
	}
	for _, opt := range opts {
		opt(h)
	}
	h.router = h.routes()
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.correlationID)
	r.Use(h.instrument)
	r.Use(h.cors)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "method not allowed"})
	})

	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Post("/chat", h.handleChat)

	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{id}", h.handleGetSession)
	r.Patch("/sessions/{id}", h.handleRenameSession)
	r.Delete("/sessions/{id}", h.handleDeleteSession)

	r.Get("/topics", h.handleTopics)
	r.Get("/grammar/examples", h.handleGrammarExamples)
	return r
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"service": serviceName,
		"version": h.version,
		"status":  "running",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.ObserveChatTurn(string(usecase.ErrorInvalidInput))
		h.writeError(w, r, err)
		return
	}

	out, err := h.svc.SubmitMessage(r.Context(), usecase.SubmitInput{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Level:     req.Level,
		Focus:     req.Focus,
	})
	if err != nil {
		h.metrics.ObserveChatTurn(string(errorCode(err)))
		h.writeError(w, r, err)
		return
	}
	h.metrics.ObserveChatTurn("ok")
	h.writeJSON(w, http.StatusOK, chatResponse{
		Message:   out.Message,
		SessionID: out.SessionID,
		Timestamp: formatTime(out.Timestamp),
	})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.writeError(w, r, err)
		return
	}
	s, err := h.svc.CreateSession(r.Context(), usecase.CreateSessionInput{
		UserID: req.UserID,
		Level:  req.Level,
		Focus:  req.Focus,
		Title:  req.Title,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: s.ID,
		Title:     s.Title,
		CreatedAt: formatTime(s.CreatedAt),
		Level:     string(s.Level),
		Focus:     string(s.Focus),
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_limit"})
			return
		}
		limit = n
	}

	sessions, err := h.svc.ListSessions(r.Context(), usecase.ListSessionsInput{
		UserID: q.Get("user_id"),
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := listSessionsResponse{Sessions: make([]sessionSummary, 0, len(sessions))}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, toSummary(s))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleTopics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := usecase.DefaultTopicCount
	if raw := strings.TrimSpace(q.Get("count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_count"})
			return
		}
		count = n
	}
	topics, err := usecase.Topics(q.Get("category"), count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, topicsResponse{Topics: topics})
}

func (h *Handler) handleGrammarExamples(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, grammarExamplesResponse{Examples: usecase.GrammarExamples(r.URL.Query().Get("level"))})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *Handler) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.svc.RenameSession(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSummary(s))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errEmptyBody = errors.New("empty request body")

// decodeJSON reads one JSON object from the request body. Failures are
// returned as INVALID_INPUT use-case errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return invalidBody(errEmptyBody)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalidBody(errEmptyBody)
		}
		return invalidBody(fmt.Errorf("decode request body: %w", err))
	}
	return nil
}

func invalidBody(err error) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
}

func errorCode(err error) usecase.ErrorCode {
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		return uerr.Code
	}
	return usecase.ErrorInternal
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var reasonMessages = map[string]string{
	"empty_message":      "message must not be empty",
	"message_too_long":   "message is too long",
	"empty_session_id":   "session id must not be empty",
	"empty_title":        "title must not be empty",
	"invalid_body":       "request body must be a JSON object",
	"invalid_limit":      "limit must be a non-negative integer",
	"invalid_count":      "count must be a non-negative integer",
	"session_not_found":  "session not found",
	"session_exists":     "session already exists",
	"llm_timeout":        "the tutor took too long to answer, please try again",
	"llm_rate_limited":   "the tutor is busy, please retry shortly",
	"llm_error":          "the tutor is unavailable right now",
	"llm_empty_response": "the tutor returned an empty answer",
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	status := statusFor(code)

	msg := "internal error"
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		if m, ok := reasonMessages[uerr.Reason]; ok {
			msg = m
		} else if status < http.StatusInternalServerError {
			msg = uerr.Reason
		}
	}

	log := observability.LoggerFromContext(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "code", code, "err", err)
	} else {
		log.Info("request rejected", "status", status, "code", code, "err", err)
	}
	h.writeJSON(w, status, errorResponse{Error: string(code), Message: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed", "err", err)
	}
}
