// Package script splits SQL scripts into statements and finds their
// parameter placeholders.
//
// The scanner understands quoted strings and identifiers, line and block
// comments, and Postgres dollar-quoted bodies. It does not parse SQL, so a
// procedural block containing semicolons must be dollar-quoted.
package script

import (
	"strings"

	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// Split breaks a script into queries at top-level semicolons. Each query's
// Offset and Length locate its trimmed text in the script; blank and
// comment-only statements are dropped.
func Split(text string) []*core.Query {
	return scan(text, true)
}

// Parse treats text as one statement and finds its placeholders.
// It returns nil when text holds nothing but whitespace and comments.
func Parse(text string) *core.Query {
	qs := scan(text, false)
	if len(qs) == 0 {
		return nil
	}
	return qs[0]
}

func scan(text string, split bool) []*core.Query {
	var out []*core.Query
	s := scanner{src: text}
	start := 0
	var params []core.QueryParam

	emit := func(end int) {
		if q := makeQuery(text, start, end, params); q != nil {
			out = append(out, q)
		}
		params = nil
	}

	for s.pos < len(text) {
		switch {
		case s.skipQuoted(), s.skipComment(), s.skipDollarQuoted():
			continue
		case split && text[s.pos] == ';':
			emit(s.pos)
			s.pos++
			start = s.pos
			continue
		}
		if p, width, ok := s.placeholder(); ok {
			params = append(params, p)
			s.pos += width
			continue
		}
		s.pos++
	}
	emit(len(text))
	return out
}

func makeQuery(text string, start, end int, params []core.QueryParam) *core.Query {
	raw := text[start:end]
	lead := len(raw) - len(strings.TrimLeft(raw, " \t\r\n"))
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || isCommentOnly(trimmed) {
		return nil
	}

	q := &core.Query{
		Text:   trimmed,
		Offset: start + lead,
		Length: len(trimmed),
	}
	for i, p := range params {
		p.Offset -= q.Offset
		p.Index = i + 1
		q.Params = append(q.Params, p)
	}
	return q
}

func isCommentOnly(s string) bool {
	sc := scanner{src: s}
	for sc.pos < len(s) {
		if sc.skipComment() {
			continue
		}
		if !isSpace(s[sc.pos]) {
			return false
		}
		sc.pos++
	}
	return true
}

type scanner struct {
	src string
	pos int
}

// skipQuoted consumes a '...', "..." or `...` token with doubled-quote escapes.
func (s *scanner) skipQuoted() bool {
	q := s.src[s.pos]
	if q != '\'' && q != '"' && q != '`' {
		return false
	}
	i := s.pos + 1
	for i < len(s.src) {
		if s.src[i] == q {
			if i+1 < len(s.src) && s.src[i+1] == q {
				i += 2
				continue
			}
			i++
			break
		}
		i++
	}
	s.pos = i
	return true
}

// skipComment consumes a -- line comment or a /* block */ comment.
func (s *scanner) skipComment() bool {
	rest := s.src[s.pos:]
	switch {
	case strings.HasPrefix(rest, "--"):
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			s.pos += i + 1
		} else {
			s.pos = len(s.src)
		}
		return true
	case strings.HasPrefix(rest, "/*"):
		if i := strings.Index(rest[2:], "*/"); i >= 0 {
			s.pos += i + 4
		} else {
			s.pos = len(s.src)
		}
		return true
	}
	return false
}

// skipDollarQuoted consumes $$...$$ or $tag$...$tag$. $1 is a positional
// parameter, not a tag.
func (s *scanner) skipDollarQuoted() bool {
	rest := s.src[s.pos:]
	if rest[0] != '$' || (s.pos > 0 && isWord(s.src[s.pos-1])) {
		return false
	}
	end := strings.IndexByte(rest[1:], '$')
	if end < 0 {
		return false
	}
	body := rest[1 : end+1]
	if body != "" && !isIdentStart(body[0]) {
		return false
	}
	for i := 0; i < len(body); i++ {
		if !isWord(body[i]) {
			return false
		}
	}
	tag := rest[:end+2]
	if i := strings.Index(rest[len(tag):], tag); i >= 0 {
		s.pos += len(tag) + i + len(tag)
	} else {
		s.pos = len(s.src)
	}
	return true
}

// placeholder recognizes :name and ? at the current position. A :: cast
// and the ?| ?& ?? JSON operators are not placeholders.
func (s *scanner) placeholder() (core.QueryParam, int, bool) {
	src, i := s.src, s.pos
	switch src[i] {
	case '?':
		if i+1 < len(src) && strings.IndexByte("|&?", src[i+1]) >= 0 {
			return core.QueryParam{}, 0, false
		}
		if i > 0 && src[i-1] == '?' {
			return core.QueryParam{}, 0, false
		}
		return core.QueryParam{Offset: i}, 1, true
	case ':':
		if i > 0 && (src[i-1] == ':' || isWord(src[i-1])) {
			return core.QueryParam{}, 0, false
		}
		j := i + 1
		if j >= len(src) || !isIdentStart(src[j]) {
			return core.QueryParam{}, 0, false
		}
		for j < len(src) && isWord(src[j]) {
			j++
		}
		return core.QueryParam{Name: src[i+1 : j], Offset: i}, j - i, true
	}
	return core.QueryParam{}, 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isWord(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
