package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/wippyai/dynffi/value"
)

// control carries return, break and continue out of nested scripts.
type control struct {
	kind   string
	result *value.Value
}

func (c *control) Error() string {
	return fmt.Sprintf("invoked %q outside of a loop or proc", c.kind)
}

// parser walks one script. A parser with term set to ']' stops at the
// first unmatched close bracket; that is how command substitution nests.
type parser struct {
	s    string
	pos  int
	term byte
}

func (p *parser) eof() bool {
	return p.pos >= len(p.s)
}

func (p *parser) peek() byte {
	return p.s[p.pos]
}

func (p *parser) atTerm() bool {
	return p.term != 0 && !p.eof() && p.peek() == p.term
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}

func isSep(c byte) bool {
	return c == '\n' || c == ';'
}

// EvalScript parses and runs script in the current frame.
func (sh *Shell) EvalScript(ctx context.Context, script string) (*value.Value, error) {
	p := &parser{s: script}
	return sh.run(ctx, p)
}

func (sh *Shell) run(ctx context.Context, p *parser) (*value.Value, error) {
	result := value.NewString("")
	for {
		p.skipBlank()
		if p.eof() || p.atTerm() {
			return result, nil
		}
		if p.peek() == '#' {
			p.skipComment()
			continue
		}
		words, err := sh.parseCommand(ctx, p)
		if err != nil {
			return nil, err
		}
		if len(words) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err = sh.Eval(ctx, words)
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) skipBlank() {
	for !p.eof() {
		c := p.peek()
		switch {
		case isSpace(c) || isSep(c):
			p.pos++
		case c == '\\' && p.pos+1 < len(p.s) && p.s[p.pos+1] == '\n':
			p.pos += 2
		default:
			return
		}
	}
}

func (p *parser) skipComment() {
	for !p.eof() {
		c := p.peek()
		if c == '\\' && p.pos+1 < len(p.s) {
			p.pos += 2
			continue
		}
		p.pos++
		if c == '\n' {
			return
		}
	}
}

func (sh *Shell) parseCommand(ctx context.Context, p *parser) ([]*value.Value, error) {
	var words []*value.Value
	for {
		for !p.eof() {
			c := p.peek()
			if isSpace(c) {
				p.pos++
			} else if c == '\\' && p.pos+1 < len(p.s) && p.s[p.pos+1] == '\n' {
				p.pos += 2
			} else {
				break
			}
		}
		if p.eof() || isSep(p.peek()) || p.atTerm() {
			return words, nil
		}
		w, err := sh.parseWord(ctx, p)
		if err != nil {
			return nil, err
		}
		words = append(words, w)
	}
}

func (sh *Shell) parseWord(ctx context.Context, p *parser) (*value.Value, error) {
	switch p.peek() {
	case '{':
		return p.parseBraced()
	case '"':
		p.pos++
		w, err := sh.parseParts(ctx, p, func(c byte) bool { return c == '"' })
		if err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, fmt.Errorf("missing \"")
		}
		p.pos++
		if !p.eof() && !isSpace(p.peek()) && !isSep(p.peek()) && !p.atTerm() {
			return nil, fmt.Errorf("extra characters after close-quote")
		}
		return w, nil
	}
	return sh.parseParts(ctx, p, func(c byte) bool {
		return isSpace(c) || isSep(c) || (p.term != 0 && c == p.term)
	})
}

func (p *parser) parseBraced() (*value.Value, error) {
	depth := 0
	var b strings.Builder
	for i := p.pos; i < len(p.s); i++ {
		c := p.s[i]
		switch c {
		case '\\':
			if i+1 < len(p.s) && p.s[i+1] == '\n' {
				b.WriteByte(' ')
				i++
				for i+1 < len(p.s) && isSpace(p.s[i+1]) {
					i++
				}
				continue
			}
			b.WriteByte(c)
			if i+1 < len(p.s) {
				i++
				b.WriteByte(p.s[i])
			}
			continue
		case '{':
			depth++
			if depth == 1 {
				continue
			}
		case '}':
			depth--
			if depth == 0 {
				p.pos = i + 1
				if !p.eof() && !isSpace(p.peek()) && !isSep(p.peek()) && !p.atTerm() {
					return nil, fmt.Errorf("extra characters after close-brace")
				}
				return value.NewString(b.String()), nil
			}
		}
		b.WriteByte(c)
	}
	return nil, fmt.Errorf("missing close-brace")
}

// parseParts reads a word with substitutions until stop matches. A word
// made of a single substitution keeps that value as is, so byte values
// survive being passed through variables.
func (sh *Shell) parseParts(ctx context.Context, p *parser, stop func(byte) bool) (*value.Value, error) {
	var parts []*value.Value
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, value.NewString(lit.String()))
			lit.Reset()
		}
	}

	for !p.eof() && !stop(p.peek()) {
		c := p.peek()
		switch c {
		case '\\':
			p.pos++
			if p.eof() {
				lit.WriteByte('\\')
				break
			}
			lit.WriteString(unescape(p))
		case '$':
			v, ok, err := sh.parseVar(p)
			if err != nil {
				return nil, err
			}
			if !ok {
				lit.WriteByte('$')
				continue
			}
			flush()
			parts = append(parts, v)
		case '[':
			p.pos++
			sub := &parser{s: p.s, pos: p.pos, term: ']'}
			v, err := sh.run(ctx, sub)
			if err != nil {
				return nil, err
			}
			if sub.eof() {
				return nil, fmt.Errorf("missing close-bracket")
			}
			p.pos = sub.pos + 1
			flush()
			parts = append(parts, v)
		default:
			lit.WriteByte(c)
			p.pos++
		}
	}
	flush()

	switch len(parts) {
	case 0:
		return value.NewString(""), nil
	case 1:
		return parts[0], nil
	}
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.String())
	}
	return value.NewString(b.String()), nil
}

func unescape(p *parser) string {
	c := p.peek()
	p.pos++
	switch c {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '0':
		return "\x00"
	case '\n':
		for !p.eof() && isSpace(p.peek()) {
			p.pos++
		}
		return " "
	case 'x':
		n, digits := 0, 0
		for digits < 2 && !p.eof() {
			d := hexDigit(p.peek())
			if d < 0 {
				break
			}
			n = n*16 + d
			digits++
			p.pos++
		}
		if digits == 0 {
			return "x"
		}
		return string([]byte{byte(n)})
	}
	return string(c)
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// parseVar reads $name or ${name}. A lone $ is literal.
func (sh *Shell) parseVar(p *parser) (*value.Value, bool, error) {
	start := p.pos + 1
	if start < len(p.s) && p.s[start] == '{' {
		end := strings.IndexByte(p.s[start:], '}')
		if end < 0 {
			return nil, false, fmt.Errorf("missing close-brace for variable name")
		}
		name := p.s[start+1 : start+end]
		p.pos = start + end + 1
		v, err := sh.GetVar(name)
		return v, true, err
	}
	end := start
	for end < len(p.s) && isNameChar(p.s, end) {
		if p.s[end] == ':' {
			end += 2
			continue
		}
		end++
	}
	if end == start {
		p.pos++
		return nil, false, nil
	}
	name := p.s[start:end]
	p.pos = end
	v, err := sh.GetVar(name)
	return v, true, err
}

func isNameChar(s string, i int) bool {
	c := s[i]
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		return true
	case c == ':' && i+1 < len(s) && s[i+1] == ':':
		return true
	}
	return false
}
