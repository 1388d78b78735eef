package discovery

import (
	"strings"
	"unicode"
)

// IsAIPlatform reports whether the joined text signals (names, descriptions,
// client identifiers, publisher domains) identify a known AI platform.
func IsAIPlatform(values ...string) bool {
	normalized := normalizeSignalText(strings.Join(values, " "))
	return hasIndicator(normalized, AIPlatformIndicators())
}

func AIPlatformIndicators() []string {
	return []string{
		"openai",
		"chatgpt",
		"gpt",
		"dall e",
		"anthropic",
		"claude",
		"gemini",
		"bard",
		"copilot",
		"cohere",
		"mistral",
		"perplexity",
		"midjourney",
		"huggingface",
		"hugging face",
		"stability ai",
		"deepseek",
		"llama",
		"replicate",
	}
}

func normalizeSignalText(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	builder := strings.Builder{}
	builder.Grow(len(raw))
	lastWasSpace := false
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
			lastWasSpace = false
			continue
		}
		if !lastWasSpace {
			builder.WriteByte(' ')
			lastWasSpace = true
		}
	}
	return strings.Join(strings.Fields(builder.String()), " ")
}

func hasIndicator(normalizedText string, indicators []string) bool {
	normalizedText = strings.TrimSpace(normalizedText)
	if normalizedText == "" {
		return false
	}
	padded := " " + normalizedText + " "
	for _, indicator := range indicators {
		indicator = strings.TrimSpace(indicator)
		if indicator == "" {
			continue
		}
		if strings.Contains(padded, " "+indicator+" ") {
			return true
		}
	}
	return false
}
