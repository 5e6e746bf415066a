package handler

import (
	"time"

	"english-tutor/internal/domain"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Level     string `json:"level"`
	Focus     string `json:"focus"`
}

type chatResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
	Level  string `json:"level"`
	Focus  string `json:"focus"`
	Title  string `json:"title"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	Level     string `json:"level"`
	Focus     string `json:"focus"`
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

type sessionSummary struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id,omitempty"`
	Title        string `json:"title"`
	Level        string `json:"level"`
	Focus        string `json:"focus"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

type listSessionsResponse struct {
	Sessions []sessionSummary `json:"sessions"`
}

type messageResponse struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type sessionResponse struct {
	sessionSummary
	Messages []messageResponse `json:"messages"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

type grammarExamplesResponse struct {
	Examples []string `json:"examples"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toSummary(s domain.Session) sessionSummary {
	return sessionSummary{
		SessionID:    s.ID,
		UserID:       s.UserID,
		Title:        s.Title,
		Level:        string(s.Level),
		Focus:        string(s.Focus),
		CreatedAt:    formatTime(s.CreatedAt),
		UpdatedAt:    formatTime(s.UpdatedAt),
		MessageCount: len(s.Messages),
	}
}

func toSessionResponse(s domain.Session) sessionResponse {
	msgs := make([]messageResponse, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, messageResponse{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: formatTime(m.Timestamp),
			Metadata:  m.Metadata,
		})
	}
	return sessionResponse{
		sessionSummary: toSummary(s),
		Messages:       msgs,
		Metadata:       s.Metadata,
	}
}
