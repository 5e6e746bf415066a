package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"english-tutor/internal/domain"
)

// sessionRecord is the on-disk shape of one session. The id is the map key.
type sessionRecord struct {
	UserID    *string         `json:"user_id"`
	Title     string          `json:"title"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
	Messages  []messageRecord `json:"messages"`
	Level     string          `json:"level"`
	Focus     string          `json:"focus"`
	Metadata  map[string]any  `json:"metadata"`
}

type messageRecord struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Role      string         `json:"role"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// NewFileStore returns a MemoryStore backed by a JSON file at path. An existing
// file is loaded fully before the store is returned; an unreadable or corrupt
// file is logged and the store starts empty.
func NewFileStore(path string, opts ...Option) (*MemoryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: session file path must not be empty")
	}
	s := NewMemoryStore(opts...)

	loaded, err := loadSessionFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// first start
	case err != nil:
		s.opts.logger.Warn("session file unreadable; starting empty", "path", path, "err", err)
	default:
		now := s.opts.now()
		for id, session := range loaded {
			if expired(session.UpdatedAt, now, s.opts.retention) {
				continue
			}
			s.sessions[id] = session
		}
		s.opts.logger.Info("sessions loaded", "path", path, "count", len(s.sessions))
	}

	s.save = func(sessions map[string]domain.Session) error {
		return writeSessionFile(path, sessions)
	}
	return s, nil
}

func loadSessionFile(path string) (map[string]domain.Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records map[string]sessionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := make(map[string]domain.Session, len(records))
	for id, rec := range records {
		session, err := rec.toDomain(id)
		if err != nil {
			return nil, fmt.Errorf("decode session %q: %w", id, err)
		}
		out[id] = session
	}
	return out, nil
}

// writeSessionFile replaces path atomically via a temp file in the same directory.
func writeSessionFile(path string, sessions map[string]domain.Session) error {
	records := make(map[string]sessionRecord, len(sessions))
	for id, session := range sessions {
		records[id] = recordFromDomain(session)
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func recordFromDomain(s domain.Session) sessionRecord {
	rec := sessionRecord{
		Title:     s.Title,
		CreatedAt: formatTime(s.CreatedAt),
		UpdatedAt: formatTime(s.UpdatedAt),
		Messages:  make([]messageRecord, 0, len(s.Messages)),
		Level:     string(s.Level),
		Focus:     string(s.Focus),
		Metadata:  s.Metadata,
	}
	if s.UserID != "" {
		userID := s.UserID
		rec.UserID = &userID
	}
	for _, m := range s.Messages {
		rec.Messages = append(rec.Messages, messageRecord{
			ID:        m.ID,
			Content:   m.Content,
			Role:      string(m.Role),
			Timestamp: formatTime(m.Timestamp),
			Metadata:  m.Metadata,
		})
	}
	return rec
}

func (rec sessionRecord) toDomain(id string) (domain.Session, error) {
	createdAt, err := parseTime(rec.CreatedAt)
	if err != nil {
		return domain.Session{}, fmt.Errorf("created_at: %w", err)
	}
	updatedAt, err := parseTime(rec.UpdatedAt)
	if err != nil {
		return domain.Session{}, fmt.Errorf("updated_at: %w", err)
	}
	s := domain.Session{
		ID:        id,
		Title:     rec.Title,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Messages:  make([]domain.Message, 0, len(rec.Messages)),
		Level:     domain.Level(rec.Level),
		Focus:     domain.Focus(rec.Focus),
		Metadata:  rec.Metadata,
	}
	if rec.UserID != nil {
		s.UserID = *rec.UserID
	}
	for i, m := range rec.Messages {
		ts, err := parseTime(m.Timestamp)
		if err != nil {
			return domain.Session{}, fmt.Errorf("message %d timestamp: %w", i, err)
		}
		s.Messages = append(s.Messages, domain.Message{
			ID:        m.ID,
			Content:   m.Content,
			Role:      domain.Role(m.Role),
			Timestamp: ts,
			Metadata:  m.Metadata,
		})
	}
	s.Normalize()
	return s, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// naiveISOLayout matches offset-less ISO-8601 values such as
// 2025-04-01T10:00:00.123456; fractional seconds are optional when parsing.
const naiveISOLayout = "2006-01-02T15:04:05"

// parseTime accepts RFC 3339 and offset-less ISO-8601, the latter read as UTC.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	if naive, nerr := time.ParseInLocation(naiveISOLayout, s, time.UTC); nerr == nil {
		return naive, nil
	}
	return time.Time{}, err
}
