package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"english-tutor/internal/domain"
	"english-tutor/internal/repository"
)

type llmCall struct {
	prompt string
	cfg    domain.SamplingConfig
}

// fakeLLM answers title prompts and reply prompts with separate handlers.
type fakeLLM struct {
	mu    sync.Mutex
	calls []llmCall

	title func(prompt string) (string, error)
	reply func(prompt string) (string, error)
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		title: func(string) (string, error) { return "Meeting Emma", nil },
		reply: func(string) (string, error) { return "Hello! I'm Emma, your English tutor.", nil },
	}
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, cfg domain.SamplingConfig) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, llmCall{prompt: prompt, cfg: cfg})
	title, reply := f.title, f.reply
	f.mu.Unlock()

	if strings.HasPrefix(prompt, "Generate a short") {
		return title(prompt)
	}
	return reply(prompt)
}

func (f *fakeLLM) replyCalls() []llmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llmCall
	for _, c := range f.calls {
		if !strings.HasPrefix(c.prompt, "Generate a short") {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeLLM) titleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls) - countReplies(f.calls)
}

func countReplies(calls []llmCall) int {
	n := 0
	for _, c := range calls {
		if !strings.HasPrefix(c.prompt, "Generate a short") {
			n++
		}
	}
	return n
}

type statusError struct{ code int }

func (e statusError) Error() string       { return fmt.Sprintf("upstream status %d", e.code) }
func (e statusError) HTTPStatusCode() int { return e.code }

// tickClock returns a strictly increasing time on every call.
type tickClock struct {
	mu   sync.Mutex
	next time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.next.Add(time.Second)
	return c.next
}

func newClockedStore() *repository.MemoryStore {
	clock := &tickClock{next: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	return repository.NewMemoryStore(repository.WithClock(clock.Now))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, llm LLMClient, store SessionStore) *Service {
	t.Helper()
	svc, err := NewService(llm, store, discardLogger(), 100*time.Millisecond, 50)
	require.NoError(t, err)
	return svc
}

func requireCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var uerr *Error
	require.True(t, errors.As(err, &uerr), "expected *usecase.Error, got %v", err)
	require.Equal(t, code, uerr.Code)
	if reason != "" {
		require.Equal(t, reason, uerr.Reason)
	}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(nil, repository.NewMemoryStore(), nil, 0, 0)
	require.Error(t, err)

	_, err = NewService(newFakeLLM(), nil, nil, 0, 0)
	require.Error(t, err)

	svc, err := NewService(newFakeLLM(), repository.NewMemoryStore(), nil, 0, 0)
	require.NoError(t, err)
	require.Equal(t, defaultLLMTimeout, svc.llmTimeout)
	require.Equal(t, defaultMaxMessageLen, svc.maxMessageLen)
}
