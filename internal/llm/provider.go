package llm

import "strings"

// DetectProvider determines the provider family from a backend identifier
// by naming convention. All provider detection goes through this function
// so routing and metrics labels stay consistent.
func DetectProvider(backend string) string {
	if backend == "" {
		return "unknown"
	}
	bl := strings.ToLower(backend)

	// Groq-hosted models first, before the llama patterns below claim them.
	if strings.Contains(bl, "groq") {
		return "groq"
	}

	if strings.Contains(bl, "gpt-") || strings.Contains(bl, "o1") ||
		strings.Contains(bl, "o3") || strings.Contains(bl, "davinci") {
		return "openai"
	}
	if strings.Contains(bl, "claude") || strings.Contains(bl, "opus") ||
		strings.Contains(bl, "sonnet") || strings.Contains(bl, "haiku") {
		return "anthropic"
	}
	if strings.Contains(bl, "gemini") || strings.Contains(bl, "palm") {
		return "google"
	}
	if strings.Contains(bl, "deepseek") {
		return "deepseek"
	}
	if strings.Contains(bl, "qwen") {
		return "qwen"
	}
	if strings.Contains(bl, "grok") {
		return "xai"
	}
	if strings.Contains(bl, "mistral") || strings.Contains(bl, "mixtral") ||
		strings.Contains(bl, "codestral") {
		return "mistral"
	}
	if strings.Contains(bl, "llama") {
		return "ollama"
	}
	if strings.Contains(bl, "command") || strings.Contains(bl, "cohere") {
		return "cohere"
	}

	return "unknown"
}
