// Package budget provides token budget estimation and history trimming for
// chat requests. Because the service supports multiple LLM backends with
// different tokenizers, it uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose and code), deliberately
// under-estimating to leave headroom for model-specific overhead.
package budget

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English text; using 3 would
	// be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit 8k-context models while leaving room for
	// the output.
	DefaultMaxContextTokens = 6000
)

// Message is the minimal shape budget calculations need. The server's chat
// request messages convert to it directly.
type Message struct {
	// Role is the message author: user, assistant, or system.
	Role string
	// Content is the message text.
	Content string
}

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// messages, including a small per-message framing overhead.
func EstimateMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		// Most chat APIs add ~4 tokens of framing per message.
		total += 4
		total += Estimate(m.Role)
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest messages from history until fixed + history
// fits within maxTokens. fixed holds messages that must never be trimmed
// (system prompt, augmented final prompt); history holds prior conversation
// turns that may be dropped oldest-first.
//
// Returns the trimmed history. If even an empty history exceeds the budget
// the empty slice is returned — fixed messages are never dropped here.
func TrimHistory(fixed, history []Message, maxTokens int) []Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	// History is typically short; a linear scan dropping oldest-first is
	// clear and correct.
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}
