package telegram

import "strings"

// chunkMessage splits a message into chunks that fit within Telegram's
// message size limit, preferring newline boundaries in the upper half of
// each chunk.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

// toTelegramMarkdown rewrites common markdown bold to Telegram's single
// asterisk flavor. Worker output routinely carries **bold** spans.
func toTelegramMarkdown(text string) string {
	return strings.ReplaceAll(text, "**", "*")
}
