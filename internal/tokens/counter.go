// Package tokens counts conversation tokens and trims the history sent with
// each generation request to a budget.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
)

// Counter counts the tokens a message list occupies in a chat prompt.
type Counter interface {
	CountMessages(msgs []funnel.Message) int
}

// Chat prompt overhead, following OpenAI's accounting for chat models.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
)

// TiktokenCounter provides token counts using tiktoken encodings.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

var (
	codecCache   = make(map[string]tokenizer.Codec)
	codecCacheMu sync.Mutex
)

// NewTiktokenCounter returns a counter for model. Unknown models fall back to
// the o200k_base encoding.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	codec, err := codecFor(model)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{codec: codec}, nil
}

func codecFor(model string) (tokenizer.Codec, error) {
	key := strings.ToLower(strings.TrimSpace(model))

	codecCacheMu.Lock()
	defer codecCacheMu.Unlock()

	if cached, ok := codecCache[key]; ok {
		return cached, nil
	}

	codec, err := tokenizer.ForModel(tokenizer.Model(key))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
		}
	}

	codecCache[key] = codec
	return codec, nil
}

// CountText counts tokens for a plain text string.
func (c *TiktokenCounter) CountText(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return estimate(len(text))
	}
	return len(ids)
}

func (c *TiktokenCounter) CountMessages(msgs []funnel.Message) int {
	total := 0
	for _, msg := range msgs {
		total += tokensPerMessage + tokensPerRole
		total += c.CountText(msg.Content)
	}
	return total
}

// Estimator approximates token counts from character length. It is used when
// no tokenizer is configured.
type Estimator struct {
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

func (e *Estimator) CountMessages(msgs []funnel.Message) int {
	chars := 0
	for _, msg := range msgs {
		chars += len(msg.Role) + len(msg.Content) + 4
	}
	return int(float64(chars) / e.CharsPerToken)
}

func estimate(chars int) int {
	return (chars + 3) / 4
}
