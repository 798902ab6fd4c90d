package budget

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},     // short strings round up to one token
		{"abcd", 1},  // exactly one token's worth
		{"abcde", 1}, // integer division
		{strings.Repeat("x", 400), 100},
	}

	for _, tc := range cases {
		if got := Estimate(tc.in); got != tc.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}

func TestEstimateMessages(t *testing.T) {
	t.Parallel()

	if got := EstimateMessages(nil); got != 0 {
		t.Errorf("expected 0 for no messages, got %d", got)
	}

	// One message: 4 framing + 1 for the role + content/4.
	msgs := []Message{{Role: "user", Content: strings.Repeat("x", 40)}}
	if got := EstimateMessages(msgs); got != 4+1+10 {
		t.Errorf("expected 15, got %d", got)
	}

	// Framing accrues per message.
	msgs = append(msgs, Message{Role: "user", Content: strings.Repeat("x", 40)})
	if got := EstimateMessages(msgs); got != 30 {
		t.Errorf("expected 30, got %d", got)
	}
}

func TestTrimHistory_FitsUntouched(t *testing.T) {
	t.Parallel()

	history := []Message{
		{Role: "user", Content: "short"},
		{Role: "assistant", Content: "also short"},
	}
	got := TrimHistory(nil, history, 1000)
	if len(got) != 2 {
		t.Errorf("expected history untouched, got %d messages", len(got))
	}
}

func TestTrimHistory_DropsOldestFirst(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 400) // ~100 tokens each
	history := []Message{
		{Role: "user", Content: "oldest " + big},
		{Role: "assistant", Content: "middle " + big},
		{Role: "user", Content: "newest " + big},
	}

	// Budget for roughly two of the three messages.
	got := TrimHistory(nil, history, 250)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after trim, got %d", len(got))
	}
	if !strings.HasPrefix(got[0].Content, "middle") || !strings.HasPrefix(got[1].Content, "newest") {
		t.Errorf("expected oldest dropped first, got %q, %q", got[0].Content[:6], got[1].Content[:6])
	}
}

func TestTrimHistory_FixedNeverDropped(t *testing.T) {
	t.Parallel()

	fixed := []Message{
		{Role: "system", Content: strings.Repeat("s", 4000)}, // ~1000 tokens
		{Role: "user", Content: strings.Repeat("p", 4000)},
	}
	history := []Message{{Role: "user", Content: "old turn"}}

	// Fixed alone blows the budget: all of history goes, fixed is untouched.
	got := TrimHistory(fixed, history, 100)
	if len(got) != 0 {
		t.Errorf("expected history fully trimmed, got %d messages", len(got))
	}
	if len(fixed) != 2 {
		t.Errorf("fixed messages must never be modified")
	}
}

func TestTrimHistory_EmptyHistory(t *testing.T) {
	t.Parallel()

	if got := TrimHistory(nil, nil, 10); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}
