package agent

import (
	"fmt"
)

// ReasoningSystemPrompt is the system prompt for a reasoning-oriented agent.
// There is no separate agent type: construct a ChatAgent with this prompt (or
// call UpdateSystemPrompt) and apply the transforms below to the question.
const ReasoningSystemPrompt = `You are a careful analytical assistant. Work through problems step by step,
state your assumptions explicitly, and separate reasoning from the final
answer. When document context is provided, cite which document each claim
comes from.`

// ChainOfThought rewrites a question so the model reasons before answering.
func ChainOfThought(question string) string {
	return fmt.Sprintf("Think through the following question step by step before giving a final answer.\n\nQuestion: %s\n\nReasoning:", question)
}

// MultiStep rewrites a question into an explicit decompose-then-solve task.
func MultiStep(question string) string {
	return fmt.Sprintf(`Break the following question into smaller sub-questions, answer each sub-question, then combine the answers into a final response.

Question: %s`, question)
}
