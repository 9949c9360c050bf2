package backend

import "github.com/divy-sh/breve/internal/models"

// Every message costs a few tokens of role markup on top of its content.
const messageOverhead = 4

// EstimateTokens approximates the number of tokens text occupies in a model's context, at four bytes
// per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// trimHistory returns the longest tail of messages whose estimated size fits budget. The newest
// message is kept even when it alone exceeds the budget. A budget of zero or less keeps everything.
func trimHistory(messages []models.Message, budget int) []models.Message {
	if budget <= 0 {
		return messages
	}

	used := 0
	start := len(messages)
	for start > 0 {
		n := EstimateTokens(messages[start-1].Content) + messageOverhead
		if used+n > budget && start < len(messages) {
			break
		}
		used += n
		start--
	}
	return messages[start:]
}
