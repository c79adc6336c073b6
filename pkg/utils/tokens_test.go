package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewTokenCounter(t *testing.T) {
	tests := []struct {
		name  string
		model string
	}{
		{name: "GPT-4o model", model: "gpt-4o"},
		{name: "Routed model", model: "openai/gpt-4o-mini"},
		{name: "Gemini model (uses fallback)", model: "gemini-2.0-flash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := NewTokenCounter(tt.model)
			if counter == nil {
				t.Fatal("NewTokenCounter() returned nil counter")
			}
			if counter.Model() != tt.model {
				t.Errorf("Model() = %v, want %v", counter.Model(), tt.model)
			}
		})
	}
}

func TestTokenCounter_Count(t *testing.T) {
	counter := NewTokenCounter("gpt-4o")

	if got := counter.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}

	short := counter.Count("GST rates")
	long := counter.Count(strings.Repeat("GST registration is mandatory above the threshold. ", 20))
	if short <= 0 {
		t.Errorf("Count(short) = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("Count(long) = %d, want more than %d", long, short)
	}
}

func TestTokenCounter_NilSafe(t *testing.T) {
	var counter *TokenCounter
	if got := counter.Count("abcdefgh"); got != 2 {
		t.Errorf("nil Count() = %d, want 2", got)
	}
	if counter.Exact() {
		t.Error("nil counter reported exact")
	}
}

func TestTokenCounter_CountMessages(t *testing.T) {
	counter := NewTokenCounter("gpt-4o")

	empty := counter.CountMessages(nil)
	if empty != perMessageOverhead {
		t.Errorf("CountMessages(nil) = %d, want %d", empty, perMessageOverhead)
	}

	one := counter.CountMessages([]Message{{Role: "user", Content: "What is the GST rate on tea?"}})
	two := counter.CountMessages([]Message{
		{Role: "user", Content: "What is the GST rate on tea?"},
		{Role: "assistant", Content: "Tea attracts 5% GST."},
	})
	if one <= empty {
		t.Errorf("one message = %d, want > %d", one, empty)
	}
	if two <= one {
		t.Errorf("two messages = %d, want > %d", two, one)
	}
}

func TestTokenCounter_FitWithinLimit(t *testing.T) {
	counter := NewTokenCounter("gpt-4o")
	messages := []Message{
		{Role: "user", Content: strings.Repeat("old question ", 50)},
		{Role: "assistant", Content: strings.Repeat("old answer ", 50)},
		{Role: "user", Content: "latest question"},
	}

	t.Run("keeps everything when budget allows", func(t *testing.T) {
		got := counter.FitWithinLimit(messages, 100000)
		if len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
	})

	t.Run("drops oldest first", func(t *testing.T) {
		budget := counter.CountMessages(messages[2:])
		got := counter.FitWithinLimit(messages, budget)
		if len(got) != 1 || got[0].Content != "latest question" {
			t.Errorf("got %+v, want only the latest message", got)
		}
	})

	t.Run("zero budget", func(t *testing.T) {
		if got := counter.FitWithinLimit(messages, 0); len(got) != 0 {
			t.Errorf("len = %d, want 0", len(got))
		}
	})
}

func TestTokenCounter_Caching(t *testing.T) {
	a := NewTokenCounter("gpt-4o")
	b := NewTokenCounter("gpt-4o-mini")
	if a.encoding != b.encoding {
		t.Error("counters sharing an encoding should share the cached table")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEncodingForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"openai/gpt-4o-mini", "o200k_base"},
		{"gpt-4", "cl100k_base"},
		{"gemini-2.0-flash", "cl100k_base"},
		{"", "cl100k_base"},
	}
	for _, tt := range tests {
		if got := EncodingForModel(tt.model); got != tt.want {
			t.Errorf("EncodingForModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestTokenCounter_Truncate(t *testing.T) {
	text := strings.Repeat("Composition scheme taxpayers pay a flat rate. ", 50)

	counters := map[string]*TokenCounter{
		"tokenizer": NewTokenCounter("gpt-4o"),
		"estimate":  nil,
	}
	for name, counter := range counters {
		t.Run(name, func(t *testing.T) {
			if got := counter.Truncate("short", 100); got != "short" {
				t.Errorf("Truncate(short) = %q", got)
			}
			if got := counter.Truncate(text, 0); got != text {
				t.Error("Truncate with no limit changed the text")
			}

			cut := counter.Truncate(text, 20)
			if len(cut) >= len(text) {
				t.Fatalf("Truncate did not shorten: %d >= %d", len(cut), len(text))
			}
			if !strings.HasPrefix(text, cut) {
				t.Errorf("Truncate result is not a prefix: %q", cut)
			}
			if n := counter.Count(cut); n > 20 {
				t.Errorf("Count(cut) = %d, want <= 20", n)
			}
		})
	}
}

func TestTokenCounter_TruncateRuneBoundary(t *testing.T) {
	var counter *TokenCounter
	cut := counter.Truncate(strings.Repeat("₹", 10), 1)
	if !utf8.ValidString(cut) {
		t.Errorf("Truncate split a rune: %q", cut)
	}
}
