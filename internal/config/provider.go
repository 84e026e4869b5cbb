package config

import "strings"

// InferProvider derives a provider id from a model id prefix when the
// caller supplied a model without an explicit provider. Used for both the
// review model and the escalation model.
func InferProvider(modelID string) string {
	m := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(m, "kimi-"):
		return "moonshot"
	case strings.HasPrefix(m, "claude-"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt-"), strings.Contains(m, "codex"):
		return "openai"
	default:
		return ""
	}
}

// ResolveProvider returns provider if non-empty, else infers one from model.
func ResolveProvider(model, provider string) string {
	if provider != "" {
		return provider
	}
	return InferProvider(model)
}
