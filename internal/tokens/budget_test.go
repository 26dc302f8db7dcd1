package tokens

import (
	"strings"
	"testing"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
)

func msg(role, content string) funnel.Message {
	return funnel.Message{Role: role, Content: content}
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name string
		msgs []funnel.Message
		want int
	}{
		{name: "empty", msgs: nil, want: 0},
		// "user"(4) + 12 chars + 4 overhead = 20 chars
		{name: "single", msgs: []funnel.Message{msg("user", "add a hero!!")}, want: 5},
		{
			name: "multiple",
			msgs: []funnel.Message{msg("user", "abcd"), msg("assistant", "efghijk")},
			// (4+4+4) + (9+7+4) = 32 chars
			want: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CountMessages(tt.msgs); got != tt.want {
				t.Errorf("CountMessages() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTiktokenCounter_CountMessages(t *testing.T) {
	c, err := NewTiktokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("NewTiktokenCounter() error = %v", err)
	}

	short := c.CountMessages([]funnel.Message{msg("user", "Hello")})
	if short < tokensPerMessage+tokensPerRole+1 {
		t.Errorf("CountMessages(short) = %d, want at least %d", short, tokensPerMessage+tokensPerRole+1)
	}

	long := c.CountMessages([]funnel.Message{msg("user", strings.Repeat("landing page ", 50))})
	if long <= short {
		t.Errorf("CountMessages(long) = %d, want more than %d", long, short)
	}
}

func TestTiktokenCounter_UnknownModelFallsBack(t *testing.T) {
	c, err := NewTiktokenCounter("some-future-model")
	if err != nil {
		t.Fatalf("NewTiktokenCounter() error = %v", err)
	}
	if got := c.CountText("hello world"); got == 0 {
		t.Error("CountText() = 0, want non-zero")
	}
}

func TestBudget_Trim(t *testing.T) {
	history := []funnel.Message{
		msg("user", strings.Repeat("a", 36)),      // 44 chars -> 11
		msg("assistant", strings.Repeat("b", 27)), // 40 chars -> 10
		msg("user", strings.Repeat("c", 32)),      // 40 chars -> 10
	}

	tests := []struct {
		name      string
		max       int
		wantFirst string
		wantLen   int
	}{
		{name: "disabled", max: 0, wantLen: 3, wantFirst: history[0].Content},
		{name: "fits", max: 100, wantLen: 3, wantFirst: history[0].Content},
		{name: "drops oldest", max: 20, wantLen: 2, wantFirst: history[1].Content},
		{name: "keeps newest", max: 10, wantLen: 1, wantFirst: history[2].Content},
		{name: "nothing fits", max: 3, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewBudget(NewEstimator(), tt.max).Trim(history)
			if len(got) != tt.wantLen {
				t.Fatalf("Trim() len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].Content != tt.wantFirst {
				t.Errorf("Trim()[0] = %q, want %q", got[0].Content, tt.wantFirst)
			}
		})
	}
}

func TestBudget_TrimDoesNotAlias(t *testing.T) {
	history := []funnel.Message{msg("user", "one"), msg("assistant", "two")}
	got := NewBudget(nil, 0).Trim(history)
	got[0].Content = "changed"
	if history[0].Content != "one" {
		t.Error("Trim() result aliases the input slice")
	}

	var nilBudget *Budget
	if got := nilBudget.Trim(history); len(got) != 2 {
		t.Errorf("nil Budget Trim() len = %d, want 2", len(got))
	}
}
