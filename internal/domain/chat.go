package domain

// ChatMessage is the provider-agnostic chat message shape sent to LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingConfig controls generation for a single LLM call.
type SamplingConfig struct {
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
}
