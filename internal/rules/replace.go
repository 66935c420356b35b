package rules

import "strings"

// ApplyReplacements runs every rule over text in order, each seeing the previous output.
//
// Matching is case-insensitive. Rules with an empty From are skipped. Regex
// rules whose pattern fails to compile fall back to literal matching.
func ApplyReplacements(text string, replacements []Replacement) string {
	for _, r := range replacements {
		text = r.Apply(text)
	}
	return text
}

// Apply replaces every occurrence of r.From in text.
func (r Replacement) Apply(text string) string {
	if r.From == "" || text == "" {
		return text
	}
	if r.IsRegex {
		if re, err := compileFold(r.From); err == nil {
			return re.ReplaceAllString(text, expandTemplate(r.To))
		}
	}
	return literalFold(r.From).ReplaceAllLiteralString(text, r.To)
}

// expandTemplate rewrites a replacement string written with $&, $1 and $<name>
// references into the regexp.Expand form. Any other $ is kept literally.
func expandTemplate(to string) string {
	if !strings.Contains(to, "$") {
		return to
	}

	var b strings.Builder
	b.Grow(len(to) + 8)
	for i := 0; i < len(to); i++ {
		c := to[i]
		if c != '$' || i+1 >= len(to) {
			if c == '$' {
				b.WriteString("$$")
			} else {
				b.WriteByte(c)
			}
			continue
		}

		next := to[i+1]
		switch {
		case next == '$':
			b.WriteString("$$")
			i++
		case next == '&':
			b.WriteString("${0}")
			i++
		case next >= '0' && next <= '9':
			j := i + 1
			for j < len(to) && j < i+3 && to[j] >= '0' && to[j] <= '9' {
				j++
			}
			b.WriteString("${" + to[i+1:j] + "}")
			i = j - 1
		case next == '<':
			end := strings.IndexByte(to[i+2:], '>')
			if end < 0 {
				b.WriteString("$$")
				continue
			}
			b.WriteString("${" + to[i+2:i+2+end] + "}")
			i += 2 + end
		default:
			b.WriteString("$$")
		}
	}
	return b.String()
}
