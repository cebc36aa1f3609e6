package llm

import "strings"

// PromptInput is everything that may enter the outbound prompt
type PromptInput struct {
	Instruction string
	Context     string
	History     []Message
	UserText    string
}

// CountTokens approximates token usage as whitespace-delimited words.
// Deterministic and provider-independent; the ceiling is sized with
// enough slack that the approximation stays safe.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

const contextHeader = "Reference information for this scenario:\n"

// BuildMessages assembles the outbound conversation: scenario
// instruction, retrieved context, the trailing history window, and the
// current user turn. If the assembly would exceed the token ceiling,
// older history is dropped first, then the context; the instruction and
// current turn are never dropped.
func BuildMessages(in PromptInput, historyWindow, tokenCeiling int) []Message {
	history := in.History
	if historyWindow > 0 && len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	contextText := in.Context
	fixed := CountTokens(in.Instruction) + CountTokens(in.UserText)

	if tokenCeiling > 0 {
		budget := tokenCeiling - fixed
		if budget < 0 {
			budget = 0
		}

		contextCost := 0
		if contextText != "" {
			contextCost = CountTokens(contextHeader) + CountTokens(contextText)
		}

		historyCost := 0
		for _, m := range history {
			historyCost += CountTokens(m.Content)
		}

		for len(history) > 0 && historyCost+contextCost > budget {
			historyCost -= CountTokens(history[0].Content)
			history = history[1:]
		}
		if historyCost+contextCost > budget {
			contextText = ""
		}
	}

	system := in.Instruction
	if contextText != "" {
		system += "\n\n" + contextHeader + contextText
	}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: in.UserText})
	return messages
}
