package usecase

import (
	"context"
	"slices"
	"strings"

	"english-tutor/internal/domain"
)

type CreateSessionInput struct {
	UserID string
	Level  string
	Focus  string
	Title  string
}

type ListSessionsInput struct {
	UserID string
	Limit  int
}

func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (domain.Session, error) {
	created, err := s.store.Create(ctx, domain.Session{
		UserID: strings.TrimSpace(in.UserID),
		Title:  strings.TrimSpace(in.Title),
		Level:  domain.ParseLevel(in.Level),
		Focus:  domain.ParseFocus(in.Focus),
	})
	if err != nil {
		return domain.Session{}, storeError(err, "store_create_error")
	}
	return created, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Session{}, storeError(err, "store_read_error")
	}
	return session, nil
}

// ListSessions returns a user's sessions, or the most recent sessions when no
// user is given, newest first.
func (s *Service) ListSessions(ctx context.Context, in ListSessionsInput) ([]domain.Session, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		sessions, err := s.store.ListRecent(ctx, limit)
		if err != nil {
			return nil, storeError(err, "store_read_error")
		}
		return sessions, nil
	}

	sessions, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "store_read_error")
	}
	sortRecent(sessions)
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// RenameSession sets a new title on an existing session.
func (s *Service) RenameSession(ctx context.Context, id, title string) (domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Session{}, newError(ErrorInvalidInput, "empty_title", nil)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	updated, err := s.store.UpdateTitle(ctx, id, title)
	if err != nil {
		return domain.Session{}, storeError(err, "store_update_error")
	}
	return updated, nil
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return storeError(err, "store_delete_error")
	}
	if !removed {
		return newError(ErrorNotFound, "session_not_found", nil)
	}
	return nil
}

func sortRecent(sessions []domain.Session) {
	slices.SortStableFunc(sessions, func(a, b domain.Session) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}
