package compiler

import (
	"strings"
)

// Template is a compiled text with embedded ${expression} segments.
// It is immutable and safe for concurrent use.
type Template struct {
	source   string
	segments []segment
}

type segment struct {
	text string
	expr *Expr
}

// CompileTemplate parses text containing ${...} expressions. '\${' yields a literal '${'.
func CompileTemplate(src string) (*Template, error) {
	t := &Template{source: src}
	var lit strings.Builder
	i := 0
	for i < len(src) {
		if strings.HasPrefix(src[i:], `\${`) {
			lit.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(src[i:], "${") {
			lit.WriteByte(src[i])
			i++
			continue
		}
		end, err := closingBrace(src, i+2)
		if err != nil {
			return nil, err
		}
		expr, err := Compile(src[i+2 : end])
		if err != nil {
			return nil, err
		}
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{text: lit.String()})
			lit.Reset()
		}
		t.segments = append(t.segments, segment{expr: expr})
		i = end + 1
	}
	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{text: lit.String()})
	}
	return t, nil
}

// closingBrace finds the '}' that ends an expression starting at from, skipping quoted strings.
func closingBrace(src string, from int) (int, error) {
	depth := 0
	var quote byte
	for i := from; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			if depth == 0 {
				return i, nil
			}
			depth--
		}
	}
	return 0, &SyntaxError{Source: src, Pos: from - 2, Msg: "unterminated ${"}
}

// String returns the source text of the template.
func (t *Template) String() string { return t.source }

// Static reports whether the template contains no expressions.
func (t *Template) Static() bool {
	for _, s := range t.segments {
		if s.expr != nil {
			return false
		}
	}
	return true
}

// Calls returns the names of every function the template's expressions invoke.
func (t *Template) Calls() []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range t.segments {
		if s.expr == nil {
			continue
		}
		for _, name := range s.expr.Calls() {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// Render evaluates every expression against env and concatenates the result.
func (t *Template) Render(env Env) (string, error) {
	var sb strings.Builder
	for _, s := range t.segments {
		if s.expr == nil {
			sb.WriteString(s.text)
			continue
		}
		v, err := s.expr.Eval(env)
		if err != nil {
			return "", err
		}
		sb.WriteString(Format(v))
	}
	return sb.String(), nil
}
