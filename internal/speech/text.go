package speech

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// FallbackText is spoken when a notification compiles to nothing.
	FallbackText = "通知があります"
	// TruncationSuffix marks text cut at the configured limit.
	TruncationSuffix = "以下省略"

	compactedRunLength = 3
)

var (
	lineBreaks   = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")
	separatorRun = regexp.MustCompile(`[、，,]+`)
)

func renderTemplate(template, app, title, text string) string {
	r := strings.NewReplacer(
		"{app}", strings.TrimSpace(app),
		"{title}", strings.TrimSpace(title),
		"{text}", strings.TrimSpace(lineBreaks.Replace(text)),
	)
	return r.Replace(template)
}

// CompactRuns shortens every run of one repeated character that is at least
// minLength long (and longer than three) to exactly three characters.
// A minLength of zero or less disables compaction.
func CompactRuns(text string, minLength int) string {
	if minLength <= 0 || utf8.RuneCountInString(text) <= compactedRunLength {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	runes := []rune(text)
	for i := 0; i < len(runes); {
		j := i + 1
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		n := j - i
		if n >= minLength && n > compactedRunLength {
			n = compactedRunLength
		}
		for k := 0; k < n; k++ {
			b.WriteRune(runes[i])
		}
		i = j
	}
	return b.String()
}

// Normalize collapses whitespace, merges separator runs into one 、 and strips
// separators and whitespace from both ends. Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = separatorRun.ReplaceAllLiteralString(text, "、")
	return strings.TrimFunc(text, func(r rune) bool {
		return isSeparator(r) || unicode.IsSpace(r)
	})
}

func isSeparator(r rune) bool {
	return r == '、' || r == '，' || r == ','
}

// Truncate keeps the first maxLength characters and appends TruncationSuffix.
// A maxLength of zero or less disables truncation.
func Truncate(text string, maxLength int) string {
	if maxLength <= 0 || utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	return string([]rune(text)[:maxLength]) + TruncationSuffix
}
