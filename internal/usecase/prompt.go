package usecase

import (
	"strings"
	"unicode/utf8"

	"english-tutor/internal/domain"
)

const (
	fallbackTitleText = "New English Conversation"
	maxTitleRunes     = 50
	titlePreviewRunes = 20
	minTitleRunes     = 5
)

var levelPrompts = map[domain.Level]string{
	domain.LevelBeginner: strings.Join([]string{
		"You are Emma, an AI English tutor helping a beginner learn English.",
		"- Use simple words and short sentences.",
		"- Explain ideas in plain terms with simple examples.",
		"- Encourage the learner and praise progress.",
		"- Gently correct only the most important grammar mistakes.",
	}, "\n"),
	domain.LevelIntermediate: strings.Join([]string{
		"You are Emma, an AI English tutor helping an intermediate learner improve.",
		"- Use natural, conversational English.",
		"- Introduce richer vocabulary and sentence structures step by step.",
		"- Explain idioms and phrasal verbs when they come up.",
		"- Correct grammar diplomatically and explain each correction.",
		"- Encourage the learner to express more complex ideas.",
	}, "\n"),
	domain.LevelAdvanced: strings.Join([]string{
		"You are Emma, an AI English tutor helping an advanced learner reach fluency.",
		"- Use sophisticated vocabulary and complex sentence structures.",
		"- Discuss abstract and nuanced topics.",
		"- Point out subtle errors, style issues and register.",
		"- Add cultural context and regional variation where relevant.",
		"- Challenge the learner with demanding questions.",
	}, "\n"),
}

var focusPrompts = map[domain.Focus]string{
	domain.FocusConversation: "Keep the conversation natural and flowing. Invite the learner to share their thoughts " +
		"and only correct errors that get in the way of understanding.",
	domain.FocusGrammar: "Pay close attention to grammar. When the learner makes a mistake, give the correct form and a " +
		"short explanation of the rule. Work on one or two grammar points at a time.",
	domain.FocusVocabulary: "Build vocabulary. Introduce useful words and phrases related to the topic, explain their " +
		"meaning and usage with example sentences, and encourage the learner to use them.",
	domain.FocusPronunciation: "Focus on pronunciation. Give phonetic hints for difficult words and explain stress, " +
		"intonation and linking sounds. Encourage the learner to practice challenging sounds.",
}

var temperatureByLevel = map[domain.Level]float64{
	domain.LevelBeginner:     0.7,
	domain.LevelIntermediate: 0.5,
	domain.LevelAdvanced:     0.3,
}

// ComposePrompt builds the model input for one turn. It is a pure function of
// its arguments; unknown level or focus values use the intermediate and
// conversation blocks.
func ComposePrompt(level domain.Level, focus domain.Focus, history []domain.Message, text string) string {
	var b strings.Builder
	b.WriteString(levelPrompts[domain.ParseLevel(string(level))])
	b.WriteString("\n\n")
	b.WriteString(focusPrompts[domain.ParseFocus(string(focus))])
	b.WriteString("\n\nCONVERSATION HISTORY:\n")
	for _, m := range history {
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("USER: ")
	b.WriteString(text)
	b.WriteString("\n\nNow, respond to the user as Emma the English tutor:\n")
	return b.String()
}

func roleLabel(r domain.Role) string {
	if r == domain.RoleUser {
		return "USER"
	}
	return "ASSISTANT"
}

// SamplingFor returns the generation settings for a learner level.
func SamplingFor(level domain.Level) domain.SamplingConfig {
	return domain.SamplingConfig{
		Temperature:     temperatureByLevel[domain.ParseLevel(string(level))],
		TopP:            0.95,
		MaxOutputTokens: 1024,
	}
}

func titleSampling() domain.SamplingConfig {
	return domain.SamplingConfig{Temperature: 0.3, TopP: 0.95, MaxOutputTokens: 32}
}

func buildTitlePrompt(firstMessage string) string {
	return "Generate a short, concise title (3-5 words) for an English learning conversation that starts with " +
		"this message: '" + firstMessage + "'. Return ONLY the title without quotes or explanation."
}

// normalizeTitle cleans a generated title. It returns "" when nothing usable is left.
func normalizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'`*")
	title = strings.Join(strings.Fields(title), " ")
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes-3]) + "..."
	}
	return title
}

// fallbackTitle derives a title from the user's first message.
func fallbackTitle(firstMessage string) string {
	text := strings.Join(strings.Fields(firstMessage), " ")
	n := utf8.RuneCountInString(text)
	switch {
	case n > titlePreviewRunes:
		return string([]rune(text)[:titlePreviewRunes]) + "..."
	case n > minTitleRunes:
		return text
	default:
		return fallbackTitleText
	}
}
