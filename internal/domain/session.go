package domain

import (
	"maps"
	"strings"
	"time"
)

// DefaultTitle is the placeholder title of a session that has not been named yet.
const DefaultTitle = "New Conversation"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Level is the learner proficiency tier of a session.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Focus is the pedagogical emphasis of a session.
type Focus string

const (
	FocusConversation  Focus = "conversation"
	FocusGrammar       Focus = "grammar"
	FocusVocabulary    Focus = "vocabulary"
	FocusPronunciation Focus = "pronunciation"
)

// ParseLevel normalizes s, falling back to LevelIntermediate for empty or unknown values.
func ParseLevel(s string) Level {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return l
	default:
		return LevelIntermediate
	}
}

// ParseFocus normalizes s, falling back to FocusConversation for empty or unknown values.
func ParseFocus(s string) Focus {
	switch f := Focus(strings.ToLower(strings.TrimSpace(s))); f {
	case FocusConversation, FocusGrammar, FocusVocabulary, FocusPronunciation:
		return f
	default:
		return FocusConversation
	}
}

// Message is a single immutable conversation turn.
type Message struct {
	ID        string
	Content   string
	Role      Role
	Timestamp time.Time
	Metadata  map[string]any
}

// Session is one conversation thread with its ordered history.
type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
	Level     Level
	Focus     Focus
	Metadata  map[string]any
}

// Normalize fills defaults for title, level and focus.
func (s *Session) Normalize() {
	if strings.TrimSpace(s.Title) == "" {
		s.Title = DefaultTitle
	}
	s.Level = ParseLevel(string(s.Level))
	s.Focus = ParseFocus(string(s.Focus))
}

// Clone returns a deep copy so callers never alias store-owned state.
func (s Session) Clone() Session {
	out := s
	out.Metadata = maps.Clone(s.Metadata)
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			m.Metadata = maps.Clone(m.Metadata)
			out.Messages[i] = m
		}
	}
	return out
}
