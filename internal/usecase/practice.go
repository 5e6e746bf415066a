package usecase

import (
	"slices"
	"strings"

	"english-tutor/internal/domain"
)

// DefaultTopicCount is how many topics Topics suggests when no count is given.
const DefaultTopicCount = 5

// maxMixedTopics caps a mixed selection at three rounds over the categories.
const maxMixedTopics = 15

// topicCategories fixes the round-robin order used when mixing categories.
var topicCategories = []string{"daily_life", "travel", "technology", "culture", "career"}

var practiceTopics = map[string][]string{
	"daily_life": {
		"Describe your daily routine",
		"What do you usually eat for breakfast?",
		"How do you commute to work or school?",
		"What are your hobbies and interests?",
		"Describe your hometown or neighborhood",
	},
	"travel": {
		"Where was your last vacation?",
		"What's your dream travel destination?",
		"Do you prefer beach holidays or city breaks?",
		"What's the most interesting place you've visited?",
		"How do you prepare for international travel?",
	},
	"technology": {
		"How has technology changed your life?",
		"What social media platforms do you use?",
		"Do you think AI will change how we work?",
		"What new technology are you excited about?",
		"How do you balance screen time and other activities?",
	},
	"culture": {
		"What's a cultural tradition in your country?",
		"Tell me about a festival you enjoy",
		"What type of music do you listen to?",
		"Have you read any good books lately?",
		"What movies or TV shows do you recommend?",
	},
	"career": {
		"What do you do for work?",
		"Where do you see yourself in five years?",
		"What skills are important in your field?",
		"How do you handle work-life balance?",
		"Describe your ideal job or workplace",
	},
}

var grammarExamples = map[domain.Level][]string{
	domain.LevelBeginner: {
		"I ___ (go) to the store yesterday.",
		"She ___ (work) at the hospital.",
		"They ___ (not/like) spicy food.",
		"He ___ (study) English for two years.",
		"___ (be) you a student?",
	},
	domain.LevelIntermediate: {
		"If I ___ (have) more time, I would travel more.",
		"She ___ (work) here since 2018.",
		"By the time I arrived, they ___ (leave) already.",
		"I wish I ___ (can) speak five languages.",
		"He asked me what I ___ (do) the next weekend.",
	},
	domain.LevelAdvanced: {
		"Had I ___ (know) about the change, I would have adjusted my plans.",
		"Not only ___ (be) he late, but he also forgot the documents.",
		"Seldom ___ (have) I seen such a beautiful sunset.",
		"Should you ___ (need) any assistance, please don't hesitate to ask.",
		"The documentary, which ___ (feature) interviews with survivors, ___ (premiere) next month.",
	},
}

// Topics suggests up to count conversation topics. A known category yields
// its own topics in order; an empty or unknown category mixes categories
// round-robin, at most maxMixedTopics in total.
func Topics(category string, count int) ([]string, error) {
	if count < 0 {
		return nil, newError(ErrorInvalidInput, "invalid_count", nil)
	}
	if list, ok := practiceTopics[strings.TrimSpace(category)]; ok {
		return slices.Clone(list[:min(count, len(list))]), nil
	}

	out := make([]string, 0, min(count, maxMixedTopics))
	for i := 0; i < min(count, maxMixedTopics); i++ {
		list := practiceTopics[topicCategories[i%len(topicCategories)]]
		if idx := i / len(topicCategories); idx < len(list) {
			out = append(out, list[idx])
		}
	}
	return out, nil
}

// GrammarExamples returns fill-in-the-blank sentences for level. Unknown
// levels get the intermediate set.
func GrammarExamples(level string) []string {
	return slices.Clone(grammarExamples[domain.ParseLevel(level)])
}
