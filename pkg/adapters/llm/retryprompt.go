package llm

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// RetryPromptFunc turns the original request and the partial response
// observed before a crash into a new request that elicits only the
// remainder. Implementations must be pure: the first live poll after the
// Replay to Live transition is journaled, so second-order replays depend on
// the same continuation being built from the same inputs.
type RetryPromptFunc func(original []Message, partial []StreamDelta) []Message

const continuationInstructions = `You were asked the same question previously, but the response was interrupted before completion.
Please continue your response from where you left off.
Do not include the part of the response that was already seen.`

// prefixTokenBudget caps how much of the observed prefix is inlined into the
// continuation prompt. Long prefixes are truncated from the front, keeping
// the tail the model must continue from.
const prefixTokenBudget = 4096

// DefaultRetryPrompt is the provider-independent continuation prompt:
// an interruption notice, the original conversation, and the already-seen
// prefix with tool calls rendered as placeholder markers. Providers may
// substitute their own via WithRetryPrompt.
func DefaultRetryPrompt(original []Message, partial []StreamDelta) []Message {
	extended := make([]Message, 0, len(original)+2)
	extended = append(extended, Message{
		Role: RoleSystem,
		Content: []ContentPart{
			TextPart(continuationInstructions),
			TextPart("Here is the original question:"),
		},
	})
	extended = append(extended, original...)

	prefix := make([]ContentPart, 0, len(partial))
	for _, delta := range partial {
		prefix = append(prefix, delta.Content...)
		for _, tc := range delta.ToolCalls {
			prefix = append(prefix, TextPart(fmt.Sprintf(
				"<tool-call id=%q name=%q arguments=%q/>", tc.ID, tc.Name, tc.ArgumentsJSON)))
		}
	}
	prefix = capPrefixTokens(prefix, prefixTokenBudget)

	extended = append(extended, Message{
		Role: RoleSystem,
		Content: append([]ContentPart{
			TextPart("Here is the partial response that was successfully received:"),
		}, prefix...),
	})
	return extended
}

// capPrefixTokens trims the prefix to the token budget, dropping the oldest
// text first. Falls back to returning the prefix unchanged if the encoding
// is unavailable.
func capPrefixTokens(prefix []ContentPart, budget int) []ContentPart {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return prefix
	}
	var b strings.Builder
	for _, p := range prefix {
		b.WriteString(p.Text)
	}
	tokens := enc.Encode(b.String(), nil, nil)
	if len(tokens) <= budget {
		return prefix
	}
	tail := enc.Decode(tokens[len(tokens)-budget:])
	out := make([]ContentPart, 0, 2)
	out = append(out, TextPart("[earlier prefix truncated]"), TextPart(tail))
	// Non-text parts (images) are dropped from the inlined prefix; they do
	// not help the model continue a textual answer.
	return out
}
