package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"english-tutor/internal/domain"
)

var (
	// ErrNotFound is returned when no session exists for the requested id.
	ErrNotFound = errors.New("repository: session not found")
	// ErrAlreadyExists is returned by Create when the id is already taken.
	ErrAlreadyExists = errors.New("repository: session already exists")
)

// PersistenceError reports that durable storage could not be read or written.
// For the file store the in-memory index still reflects the mutation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("repository: persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store is the sole authority for session existence, lookup and persistence.
// Every returned session is a deep copy.
type Store interface {
	Create(ctx context.Context, session domain.Session) (domain.Session, error)
	Get(ctx context.Context, id string) (domain.Session, error)
	Update(ctx context.Context, session domain.Session) (domain.Session, error)
	UpdateTitle(ctx context.Context, id, title string) (domain.Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	AppendMessage(ctx context.Context, id string, msg domain.Message) (domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Session, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Session, error)
}

type options struct {
	now       func() time.Time
	newID     func() string
	retention time.Duration
	logger    *slog.Logger
}

// Option configures a store.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides how missing session and message ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithRetention drops sessions not updated within d. Zero keeps sessions forever.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithLogger sets the logger used for load and prune diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// touch returns the next updated_at value, never earlier than createdAt.
func touch(now, createdAt time.Time) time.Time {
	if now.Before(createdAt) {
		return createdAt
	}
	return now
}

// titleOrDefault trims title and substitutes the placeholder when nothing is left.
func titleOrDefault(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.DefaultTitle
	}
	return title
}

// prepareNew fills the ids, timestamps and defaults of a session about to be created.
func prepareNew(s domain.Session, o options) domain.Session {
	s = s.Clone()
	if s.ID == "" {
		s.ID = o.newID()
	}
	s.Normalize()
	now := o.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = touch(now, s.CreatedAt)
	if s.Messages == nil {
		s.Messages = []domain.Message{}
	}
	for i := range s.Messages {
		s.Messages[i] = prepareMessage(s.Messages[i], o)
	}
	return s
}

func prepareMessage(m domain.Message, o options) domain.Message {
	if m.ID == "" {
		m.ID = o.newID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = o.now()
	}
	return m
}
