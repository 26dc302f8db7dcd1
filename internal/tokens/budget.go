package tokens

import (
	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
)

// Budget caps the number of tokens of conversation history attached to a
// generation request.
type Budget struct {
	counter Counter
	max     int
}

// NewBudget returns a budget of max tokens measured with counter. A max of
// zero or less disables trimming.
func NewBudget(counter Counter, max int) *Budget {
	if counter == nil {
		counter = NewEstimator()
	}
	return &Budget{counter: counter, max: max}
}

// Max returns the configured token limit.
func (b *Budget) Max() int {
	if b == nil {
		return 0
	}
	return b.max
}

// Trim returns the longest suffix of history that fits the budget. The
// oldest messages are dropped first and the input slice is never modified.
func (b *Budget) Trim(history []funnel.Message) []funnel.Message {
	out := append([]funnel.Message{}, history...)
	if b == nil || b.max <= 0 {
		return out
	}

	start := 0
	for start < len(out) && b.counter.CountMessages(out[start:]) > b.max {
		start++
	}
	return out[start:]
}
