// Package tokenizer estimates token counts for orchestrator stage inputs
// (C7), using tiktoken's BPE encodings as a stand-in for each provider's
// own (undisclosed) tokenization. It is a sizing signal logged alongside
// stage latency, not a billing mechanism.
package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer provides token counting using tiktoken encodings. Encodings are
// cached via sync.Once to avoid repeated initialization.
type Tokenizer struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// providerEncodings maps a provider name (or name prefix, for versioned
// deployments like "provider-b-2") to its tiktoken encoding. Providers not
// listed default to cl100k_base.
var providerEncodings = map[string]string{
	"provider-a": "cl100k_base",
	"provider-b": "o200k_base",
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// GetEncoding returns the encoding name for the given provider. Unknown
// providers default to cl100k_base.
func (t *Tokenizer) GetEncoding(provider string) string {
	if enc, ok := providerEncodings[provider]; ok {
		return enc
	}

	lower := strings.ToLower(provider)
	for p, enc := range providerEncodings {
		if strings.HasPrefix(lower, p) {
			return enc
		}
	}

	return "cl100k_base"
}

// getEncoder returns the cached tiktoken encoder for the given provider.
func (t *Tokenizer) getEncoder(provider string) (*tiktoken.Tiktoken, error) {
	switch t.GetEncoding(provider) {
	case "o200k_base":
		t.o200kOnce.Do(func() {
			t.o200kEnc, t.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return t.o200kEnc, t.o200kErr
	default:
		t.cl100kOnce.Do(func() {
			t.cl100kEnc, t.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return t.cl100kEnc, t.cl100kErr
	}
}

// CountTokens counts the number of tokens in text, using the encoding
// associated with provider. Unrecognized providers count against the
// default encoding rather than erroring.
func (t *Tokenizer) CountTokens(provider, text string) int {
	enc, err := t.getEncoder(provider)
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
