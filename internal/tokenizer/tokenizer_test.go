package tokenizer

import "testing"

func TestCountTokens_NonZeroForKnownText(t *testing.T) {
	tok := New()
	text := "Hello, world! This is a test of the tokenizer."
	count := tok.CountTokens("provider-a", text)
	if count == 0 {
		t.Errorf("CountTokens returned 0 for known text %q; want non-zero", text)
	}
}

func TestCountTokens_ZeroForEmptyText(t *testing.T) {
	tok := New()
	count := tok.CountTokens("provider-a", "")
	if count != 0 {
		t.Errorf("CountTokens returned %d for empty text; want 0", count)
	}
}

func TestGetEncoding_KnownProviders(t *testing.T) {
	tok := New()
	if enc := tok.GetEncoding("provider-a"); enc != "cl100k_base" {
		t.Errorf("GetEncoding(provider-a) = %q, want cl100k_base", enc)
	}
	if enc := tok.GetEncoding("provider-b"); enc != "o200k_base" {
		t.Errorf("GetEncoding(provider-b) = %q, want o200k_base", enc)
	}
}

func TestGetEncoding_DefaultsForUnknownProvider(t *testing.T) {
	tok := New()
	unknowns := []string{"some-random-provider", "llama-host", "mistral-host"}
	for _, p := range unknowns {
		if enc := tok.GetEncoding(p); enc != "cl100k_base" {
			t.Errorf("GetEncoding(%q) = %q; want cl100k_base", p, enc)
		}
	}
}

func TestGetEncoding_PrefixMatchForVersionedProviderNames(t *testing.T) {
	tok := New()
	tests := []struct {
		provider string
		expected string
	}{
		{"provider-a-2", "cl100k_base"},
		{"provider-b-2", "o200k_base"},
	}
	for _, tt := range tests {
		if enc := tok.GetEncoding(tt.provider); enc != tt.expected {
			t.Errorf("GetEncoding(%q) = %q; want %q", tt.provider, enc, tt.expected)
		}
	}
}
