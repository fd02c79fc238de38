package textfilter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "json fence", input: "```json\n{\"a\":1}\n```", expected: `{"a":1}`},
		{name: "bare fence", input: "```\nhello\n```", expected: "hello"},
		{name: "no fence", input: "  hello  ", expected: "hello"},
		{name: "fence in the middle is kept", input: "see ```x``` here", expected: "see ```x``` here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.input); got != tt.expected {
				t.Errorf("StripCodeFences(%q) = %q; want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "removes narrator tag",
			input:    "Narrador: La puerta cruje.",
			expected: "La puerta cruje.",
		},
		{
			name:     "collapses blank runs",
			input:    "One.\n\n\n\nTwo.",
			expected: "One.\n\nTwo.",
		},
		{
			name:     "keeps inner colons",
			input:    "The sign reads: beware.",
			expected: "The sign reads: beware.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanReply(tt.input); got != tt.expected {
				t.Errorf("CleanReply(%q) = %q; want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	short := "Short text."
	if got := Truncate(short, 100); got != short {
		t.Errorf("expected short text unchanged, got %q", got)
	}

	long := strings.Repeat("a", 90) + ". " + strings.Repeat("b", 50)
	got := Truncate(long, 100)
	if utf8.RuneCountInString(got) > 100 {
		t.Errorf("expected at most 100 runes, got %d", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("expected cut at sentence end, got %q", got)
	}

	accented := strings.Repeat("ñ", 20)
	if got := Truncate(accented, 5); utf8.RuneCountInString(got) != 5 {
		t.Errorf("expected 5 runes, got %q", got)
	}

	if got := Truncate(long, 0); got != long {
		t.Error("expected non-positive max to disable truncation")
	}
}
