package usecase

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"english-tutor/internal/domain"
	"english-tutor/internal/observability"
)

type SubmitInput struct {
	Message   string
	SessionID string
	UserID    string
	Level     string
	Focus     string
}

type SubmitOutput struct {
	Message   string
	SessionID string
	Timestamp time.Time
}

// SubmitMessage records the user's text, asks the model for a reply and
// records the reply. If the model call fails the user message stays in the
// history and no assistant message is added.
func (s *Service) SubmitMessage(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return SubmitOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return SubmitOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	log := observability.LoggerFromContext(ctx, s.logger)

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		created, err := s.store.Create(ctx, domain.Session{
			UserID: strings.TrimSpace(in.UserID),
			Level:  domain.ParseLevel(in.Level),
			Focus:  domain.ParseFocus(in.Focus),
		})
		if err != nil {
			return SubmitOutput{}, storeError(err, "store_create_error")
		}
		sessionID = created.ID
		log.Info("session created", "session_id", sessionID, "level", created.Level, "focus", created.Focus)
	}

	session, err := s.store.AppendMessage(ctx, sessionID, domain.Message{Role: domain.RoleUser, Content: text})
	if err != nil {
		return SubmitOutput{}, storeError(err, "store_append_error")
	}
	prior := session.Messages[:len(session.Messages)-1]

	if len(session.Messages) == 1 && session.Title == domain.DefaultTitle {
		session = s.assignTitle(ctx, session, text)
	}

	prompt := ComposePrompt(session.Level, session.Focus, prior, text)
	reply, err := s.generate(ctx, prompt, SamplingFor(session.Level))
	if err != nil {
		uerr := upstreamError(err)
		log.Warn("llm call failed; user message kept", "session_id", sessionID, "reason", uerr.Reason, "err", err)
		return SubmitOutput{}, uerr
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return SubmitOutput{}, newError(ErrorUpstream, "llm_empty_response", nil)
	}

	// The reply exists at this point; record it even if the caller went away.
	session, err = s.store.AppendMessage(context.WithoutCancel(ctx), sessionID, domain.Message{Role: domain.RoleAssistant, Content: reply})
	if err != nil {
		return SubmitOutput{}, storeError(err, "store_append_error")
	}
	last := session.Messages[len(session.Messages)-1]

	return SubmitOutput{
		Message:   last.Content,
		SessionID: sessionID,
		Timestamp: last.Timestamp,
	}, nil
}

// assignTitle names a session after its first message. Failures fall back to
// a title derived from the text and never fail the turn.
func (s *Service) assignTitle(ctx context.Context, session domain.Session, firstMessage string) domain.Session {
	log := observability.LoggerFromContext(ctx, s.logger)

	raw, err := s.generate(ctx, buildTitlePrompt(firstMessage), titleSampling())
	title := normalizeTitle(raw)
	switch {
	case err != nil:
		log.Warn("title generation failed; using fallback", "session_id", session.ID, "err", err)
		title = fallbackTitle(firstMessage)
	case title == "":
		title = fallbackTitle(firstMessage)
	}

	updated, err := s.store.UpdateTitle(ctx, session.ID, title)
	if err != nil {
		log.Warn("title not saved", "session_id", session.ID, "err", err)
		return session
	}
	return updated
}
