package llm

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pkoukk/tiktoken-go"
)

func TestDefaultRetryPromptShape(t *testing.T) {
	original := []Message{
		Text(RoleSystem, "be terse"),
		Text(RoleUser, "what is 2+2?"),
	}
	partial := []StreamDelta{
		{Content: []ContentPart{TextPart("The answer")}},
		{Content: []ContentPart{TextPart(" is")}},
	}

	got := DefaultRetryPrompt(original, partial)
	if len(got) != len(original)+2 {
		t.Fatalf("len = %d, want %d", len(got), len(original)+2)
	}
	if got[0].Role != RoleSystem || !strings.Contains(got[0].Content[0].Text, "interrupted") {
		t.Fatalf("missing interruption notice: %+v", got[0])
	}
	if !reflect.DeepEqual(got[1:len(got)-1], original) {
		t.Fatalf("original conversation altered: %+v", got[1:len(got)-1])
	}
	last := got[len(got)-1]
	if last.Role != RoleSystem {
		t.Fatalf("prefix message role = %s", last.Role)
	}
	var text strings.Builder
	for _, p := range last.Content {
		text.WriteString(p.Text)
	}
	if !strings.Contains(text.String(), "The answer is") {
		t.Fatalf("prefix not carried: %q", text.String())
	}
}

func TestDefaultRetryPromptToolCallMarkers(t *testing.T) {
	partial := []StreamDelta{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: "lookup", ArgumentsJSON: `{"q":"go"}`}}},
	}
	got := DefaultRetryPrompt([]Message{Text(RoleUser, "search")}, partial)
	last := got[len(got)-1]
	var text strings.Builder
	for _, p := range last.Content {
		text.WriteString(p.Text)
	}
	marker := `<tool-call id="call_1" name="lookup" arguments="{\"q\":\"go\"}"/>`
	if !strings.Contains(text.String(), marker) {
		t.Fatalf("tool call marker missing: %q", text.String())
	}
}

// The continuation prompt is journaled indirectly via the first live poll, so
// building it twice from the same inputs must give identical results.
func TestDefaultRetryPromptIsPure(t *testing.T) {
	original := []Message{Text(RoleUser, "hi")}
	partial := []StreamDelta{{Content: []ContentPart{TextPart("he"), TextPart("llo")}}}

	a := DefaultRetryPrompt(original, partial)
	b := DefaultRetryPrompt(original, partial)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("retry prompt is not deterministic")
	}
}

func TestDefaultRetryPromptCapsLongPrefix(t *testing.T) {
	if _, err := tiktoken.GetEncoding("cl100k_base"); err != nil {
		t.Skipf("skip: cl100k_base unavailable: %v", err)
	}
	long := strings.Repeat("lorem ipsum dolor sit amet ", 4000)
	partial := []StreamDelta{{Content: []ContentPart{TextPart(long)}}}

	got := DefaultRetryPrompt([]Message{Text(RoleUser, "go on")}, partial)
	last := got[len(got)-1]
	if last.Content[1].Text != "[earlier prefix truncated]" {
		t.Fatalf("truncation marker missing: %q", last.Content[1].Text)
	}
	var kept int
	for _, p := range last.Content {
		kept += len(p.Text)
	}
	if kept >= len(long) {
		t.Fatalf("prefix not shortened (%d bytes kept)", kept)
	}
}
