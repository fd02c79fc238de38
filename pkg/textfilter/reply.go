package textfilter

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	fencePattern     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
	speakerPrefixes  = []string{"narrator:", "narrador:", "ia:", "assistant:"}
	sentenceEndRunes = ".!?\n"
)

// StripCodeFences removes a markdown code fence wrapping the whole text
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// CleanReply tidies generated narrator text before it is stored as a reply:
// fences and a leading speaker tag are removed and blank runs collapsed.
func CleanReply(s string) string {
	s = StripCodeFences(s)
	lower := strings.ToLower(s)
	for _, p := range speakerPrefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Truncate shortens s to at most max runes. When a sentence ends within the
// last fifth of the window the cut happens there instead of mid-sentence.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)[:max]
	cut := string(r)
	if i := strings.LastIndexAny(cut, sentenceEndRunes); i >= 0 && i >= len(cut)*4/5 {
		return strings.TrimSpace(cut[:i+1])
	}
	return strings.TrimSpace(cut)
}
