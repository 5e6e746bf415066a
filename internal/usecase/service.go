package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"english-tutor/internal/domain"
)

const (
	defaultLLMTimeout    = 30 * time.Second
	defaultMaxMessageLen = 2000
	defaultListLimit     = 10
	maxListLimit         = 100
)

// LLMClient is the language-model collaborator.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, cfg domain.SamplingConfig) (string, error)
}

// SessionStore is the subset of the session store the service depends on.
type SessionStore interface {
	Create(ctx context.Context, session domain.Session) (domain.Session, error)
	Get(ctx context.Context, id string) (domain.Session, error)
	UpdateTitle(ctx context.Context, id, title string) (domain.Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	AppendMessage(ctx context.Context, id string, msg domain.Message) (domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Session, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Session, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Service orchestrates chat turns and session management. It holds no
// session state of its own; every request reads through the store.
type Service struct {
	llm           LLMClient
	store         SessionStore
	logger        *slog.Logger
	llmTimeout    time.Duration
	maxMessageLen int
}

func NewService(llm LLMClient, store SessionStore, logger *slog.Logger, llmTimeout time.Duration, maxMessageLen int) (*Service, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if llmTimeout <= 0 {
		llmTimeout = defaultLLMTimeout
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &Service{
		llm:           llm,
		store:         store,
		logger:        logger,
		llmTimeout:    llmTimeout,
		maxMessageLen: maxMessageLen,
	}, nil
}

type generation struct {
	text string
	err  error
}

// generate runs one LLM call under the service timeout. The call runs in its
// own goroutine so a collaborator that ignores ctx cannot hold the request.
func (s *Service) generate(ctx context.Context, prompt string, cfg domain.SamplingConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	done := make(chan generation, 1)
	go func() {
		text, err := s.llm.Generate(ctx, prompt, cfg)
		done <- generation{text: text, err: err}
	}()

	select {
	case g := <-done:
		return g.text, g.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// upstreamError classifies a failed LLM call. Provider quota exhaustion is an
// upstream failure like any other; only the reason differs.
func upstreamError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorUpstream, "llm_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorUpstream, "llm_rate_limited", err)
	}
	return newError(ErrorUpstream, "llm_error", err)
}
