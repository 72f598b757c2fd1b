package providers

import "strings"

// InferProviderFromModel maps a model identifier to a provider label
// for usage reporting. It never affects routing.
func InferProviderFromModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "":
		return "unknown"
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4"):
		return "openai"
	default:
		return "unknown"
	}
}
