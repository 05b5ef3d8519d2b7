package ai

import (
	"context"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"omnicoder/internal/domain/ports/adapter"
)

var _ adapter.TokenCounter = (*TiktokenCounter)(nil)

const fallbackEncoding = "cl100k_base"

// TiktokenCounter estimates prompt size locally. Claude models have no public BPE table, so
// unknown models use cl100k_base; if no encoding can be loaded the count degrades to len/4.
type TiktokenCounter struct {
	mu     sync.Mutex
	encs   map[string]*tiktoken.Tiktoken
	broken bool
	log    *zerolog.Logger
}

func NewTiktokenCounter(logger *zerolog.Logger) *TiktokenCounter {
	l := logger.With().Str("component", "token_counter").Logger()
	return &TiktokenCounter{encs: map[string]*tiktoken.Tiktoken{}, log: &l}
}

func (c *TiktokenCounter) CountTokens(_ context.Context, model, system string, messages []adapter.Message) (int, error) {
	enc := c.encoding(model)
	count := func(s string) int {
		if enc == nil {
			return estimateTokens(s)
		}
		return len(enc.Encode(s, nil, nil))
	}
	total := count(system)
	for _, m := range messages {
		total += count(m.Content)
	}
	return total, nil
}

func (c *TiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return nil
	}
	if enc, ok := c.encs[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("tiktoken encodings unavailable, using length estimate")
		c.broken = true
		return nil
	}
	c.encs[model] = enc
	return enc
}

// estimateTokens is the rough four-characters-per-token rule.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
