package llm

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates prompt size in model tokens.
type TokenCounter interface {
	CountTokens(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenCounter) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateCounter is a fast, character-based estimation used when no
// encoding is available.
type EstimateCounter struct{}

func (EstimateCounter) CountTokens(text string) int {
	return len(text) / 3
}

// NewTokenCounter returns a cl100k_base counter. Loading the encoding may
// need network access; on failure it falls back to EstimateCounter.
func NewTokenCounter(logger *slog.Logger) TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, estimating token counts", "error", err)
		return EstimateCounter{}
	}
	return &tiktokenCounter{enc: enc}
}
