package repository

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"english-tutor/internal/domain"
)

// MemoryStore keeps sessions in a map guarded by one lock. With a saver
// attached (see NewFileStore) every mutation also rewrites the full index
// while the lock is held, so concurrent saves never interleave.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	opts     options
	save     func(map[string]domain.Session) error
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]domain.Session),
		opts:     newOptions(opts),
	}
}

func (s *MemoryStore) Create(_ context.Context, session domain.Session) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session = prepareNew(session, s.opts)
	if _, exists := s.sessions[session.ID]; exists {
		return domain.Session{}, ErrAlreadyExists
	}
	s.pruneLocked()
	s.sessions[session.ID] = session

	if err := s.persistLocked("create"); err != nil {
		return domain.Session{}, err
	}
	return session.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	return session.Clone(), nil
}

// Update replaces the mutable attributes of an existing session. Messages are
// append-only and are never taken from the argument.
func (s *MemoryStore) Update(_ context.Context, session domain.Session) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[session.ID]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	session.Normalize()
	existing.UserID = session.UserID
	existing.Title = session.Title
	existing.Level = session.Level
	existing.Focus = session.Focus
	existing.Metadata = maps.Clone(session.Metadata)
	existing.UpdatedAt = touch(s.opts.now(), existing.CreatedAt)
	s.sessions[existing.ID] = existing

	if err := s.persistLocked("update"); err != nil {
		return domain.Session{}, err
	}
	return existing.Clone(), nil
}

// UpdateTitle changes only the title, leaving every other attribute as stored.
func (s *MemoryStore) UpdateTitle(_ context.Context, id, title string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	existing.Title = titleOrDefault(title)
	existing.UpdatedAt = touch(s.opts.now(), existing.CreatedAt)
	s.sessions[id] = existing

	if err := s.persistLocked("update title"); err != nil {
		return domain.Session{}, err
	}
	return existing.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)

	if err := s.persistLocked("delete"); err != nil {
		return true, err
	}
	return true, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, msg domain.Message) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	msg = prepareMessage(msg, s.opts)
	msg.Metadata = maps.Clone(msg.Metadata)
	existing.Messages = append(existing.Messages, msg)
	existing.UpdatedAt = touch(s.opts.now(), existing.CreatedAt)
	s.sessions[id] = existing

	if err := s.persistLocked("append message"); err != nil {
		return domain.Session{}, err
	}
	return existing.Clone(), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, session.Clone())
		}
	}
	sortRecent(out)
	return out, nil
}

// ListRecent returns sessions by updated_at descending. A non-positive limit returns all of them.
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	sortRecent(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune removes sessions outside the retention window and returns how many were dropped.
func (s *MemoryStore) Prune(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.pruneLocked()
	if n == 0 {
		return 0, nil
	}
	if err := s.persistLocked("prune"); err != nil {
		return n, err
	}
	return n, nil
}

func (s *MemoryStore) pruneLocked() int {
	if s.opts.retention <= 0 {
		return 0
	}
	now := s.opts.now()
	n := 0
	for id, session := range s.sessions {
		if expired(session.UpdatedAt, now, s.opts.retention) {
			delete(s.sessions, id)
			n++
		}
	}
	if n > 0 {
		s.opts.logger.Info("pruned expired sessions", "count", n, "retention", s.opts.retention.String())
	}
	return n
}

func (s *MemoryStore) persistLocked(op string) error {
	if s.save == nil {
		return nil
	}
	if err := s.save(s.sessions); err != nil {
		s.opts.logger.Warn("session index not persisted; continuing in memory", "op", op, "err", err)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

func sortRecent(sessions []domain.Session) {
	slices.SortStableFunc(sessions, func(a, b domain.Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func expired(updatedAt, now time.Time, retention time.Duration) bool {
	return retention > 0 && updatedAt.Before(now.Add(-retention))
}
