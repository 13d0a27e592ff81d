package value

import (
	"fmt"
	"strings"
)

// SplitList parses a whitespace separated word list. Words may be grouped with
// braces, which nest and suppress escapes, or with double quotes, which allow
// backslash escapes.
func SplitList(s string) ([]string, error) {
	var words []string
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return words, nil
		}
		switch s[i] {
		case '{':
			depth := 1
			j := i + 1
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '\\':
					j++
				case '{':
					depth++
				case '}':
					depth--
				}
				j++
			}
			if depth != 0 {
				return nil, fmt.Errorf("unmatched open brace in list")
			}
			if j < len(s) && !isSpace(s[j]) {
				return nil, fmt.Errorf("list element in braces followed by %q instead of space", s[j:j+1])
			}
			words = append(words, s[i+1:j-1])
			i = j
		case '"':
			var b strings.Builder
			j := i + 1
			closed := false
			for j < len(s) {
				c := s[j]
				if c == '\\' && j+1 < len(s) {
					b.WriteByte(unescape(s[j+1]))
					j += 2
					continue
				}
				if c == '"' {
					closed = true
					j++
					break
				}
				b.WriteByte(c)
				j++
			}
			if !closed {
				return nil, fmt.Errorf("unmatched open quote in list")
			}
			if j < len(s) && !isSpace(s[j]) {
				return nil, fmt.Errorf("list element in quotes followed by %q instead of space", s[j:j+1])
			}
			words = append(words, b.String())
			i = j
		default:
			var b strings.Builder
			for i < len(s) && !isSpace(s[i]) {
				if s[i] == '\\' && i+1 < len(s) {
					b.WriteByte(unescape(s[i+1]))
					i += 2
					continue
				}
				b.WriteByte(s[i])
				i++
			}
			words = append(words, b.String())
		}
	}
}

// FormatList joins words so that SplitList returns them unchanged.
func FormatList(words []string) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(quoteWord(w))
	}
	return b.String()
}

func quoteWord(w string) string {
	if w == "" {
		return "{}"
	}
	if !strings.ContainsAny(w, " \t\n\r{}\"\\;$[]") {
		return w
	}
	if balanced(w) && w[len(w)-1] != '\\' {
		return "{" + w + "}"
	}
	var b strings.Builder
	for i := 0; i < len(w); i++ {
		switch c := w[i]; c {
		case ' ', '{', '}', '"', '\\', '$', '[', ']', ';':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func balanced(w string) bool {
	depth := 0
	for i := 0; i < len(w); i++ {
		switch w[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	}
	return c
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
