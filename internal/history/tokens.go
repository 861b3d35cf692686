package history

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/floatchat/floatchat/internal/log"
)

// TokenCounter estimates how many tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

// approxCharsPerToken is the fallback heuristic: roughly 4 characters per
// token for English text.
const approxCharsPerToken = 4

// TiktokenCounter counts tokens with the cl100k_base encoding, falling
// back to the character heuristic when the tokenizer is unavailable.
type TiktokenCounter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger log.Logger
}

// NewTokenCounter creates a TiktokenCounter. Encoding data loads lazily on
// first use so construction never fails.
func NewTokenCounter(logger log.Logger) *TiktokenCounter {
	return &TiktokenCounter{logger: logger}
}

// Count returns the token count of text.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("tokenizer unavailable, falling back to character estimate", "error", err)
			return
		}
		c.enc = enc
	})

	if c.enc == nil {
		return len(text) / approxCharsPerToken
	}
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter is the pure character-heuristic counter, used in tests and
// as an explicit no-tokenizer fallback.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int { return len(text) / approxCharsPerToken }
