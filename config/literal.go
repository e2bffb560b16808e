package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// literalValue is the dynamically-typed result of parsing one dict value:
// a bool, an int64, a string, or nil (Python's None).
type literalValue struct {
	kind  literalKind
	b     bool
	i     int64
	s     string
}

type literalKind int

const (
	kindNil literalKind = iota
	kindBool
	kindInt
	kindString
)

// parseLiteralDict parses a single top-level Python dict literal of the
// form `{ "key": value, "key2": value2, ... }`, where value is True,
// False, None, an integer, or a single/double-quoted string. This is the
// on-disk format the scheduler's config file uses; no third-party Go
// library parses Python literal syntax, so this is a hand-rolled
// scanner (see DESIGN.md for the justification).
func parseLiteralDict(src string) (map[string]literalValue, error) {
	p := &litParser{s: src}
	p.skipSpace()
	if !p.consume('{') {
		return nil, errors.New("config: expected top-level dict literal starting with '{'")
	}
	result := make(map[string]literalValue)
	p.skipSpace()
	if p.consume('}') {
		return result, nil
	}
	for {
		p.skipSpace()
		key, err := p.parseString()
		if err != nil {
			return nil, errors.Wrap(err, "config: parsing key")
		}
		p.skipSpace()
		if !p.consume(':') {
			return nil, errors.Errorf("config: expected ':' after key %q", key)
		}
		p.skipSpace()
		val, err := p.parseValue()
		if err != nil {
			return nil, errors.Wrapf(err, "config: parsing value for key %q", key)
		}
		result[key] = val
		p.skipSpace()
		if p.consume(',') {
			p.skipSpace()
			if p.consume('}') {
				return result, nil
			}
			continue
		}
		if p.consume('}') {
			return result, nil
		}
		return nil, errors.Errorf("config: expected ',' or '}' after key %q", key)
	}
}

type litParser struct {
	s   string
	pos int
}

func (p *litParser) hasMore() bool { return p.pos < len(p.s) }
func (p *litParser) peek() byte {
	if !p.hasMore() {
		return 0
	}
	return p.s[p.pos]
}
func (p *litParser) consume(b byte) bool {
	if p.peek() == b {
		p.pos++
		return true
	}
	return false
}

func (p *litParser) skipSpace() {
	for p.hasMore() {
		c := p.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case c == '#':
			for p.hasMore() && p.peek() != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *litParser) parseString() (string, error) {
	quote := p.peek()
	if quote != '"' && quote != '\'' {
		return "", errors.Errorf("expected quoted string at position %d", p.pos)
	}
	p.pos++
	start := p.pos
	var b strings.Builder
	for p.hasMore() && p.peek() != quote {
		if p.peek() == '\\' && p.pos+1 < len(p.s) {
			b.WriteByte(p.s[p.pos+1])
			p.pos += 2
			continue
		}
		b.WriteByte(p.s[p.pos])
		p.pos++
	}
	if !p.hasMore() {
		return "", errors.Errorf("unterminated string starting at %d", start)
	}
	p.pos++ // closing quote
	return b.String(), nil
}

func (p *litParser) parseValue() (literalValue, error) {
	p.skipSpace()
	switch {
	case strings.HasPrefix(p.s[p.pos:], "True"):
		p.pos += 4
		return literalValue{kind: kindBool, b: true}, nil
	case strings.HasPrefix(p.s[p.pos:], "False"):
		p.pos += 5
		return literalValue{kind: kindBool, b: false}, nil
	case strings.HasPrefix(p.s[p.pos:], "None"):
		p.pos += 4
		return literalValue{kind: kindNil}, nil
	case p.peek() == '"' || p.peek() == '\'':
		s, err := p.parseString()
		if err != nil {
			return literalValue{}, err
		}
		return literalValue{kind: kindString, s: s}, nil
	case p.peek() == '-' || (p.peek() >= '0' && p.peek() <= '9'):
		start := p.pos
		if p.peek() == '-' {
			p.pos++
		}
		for p.hasMore() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
		}
		n, err := strconv.ParseInt(p.s[start:p.pos], 10, 64)
		if err != nil {
			return literalValue{}, errors.Wrapf(err, "bad integer literal %q", p.s[start:p.pos])
		}
		return literalValue{kind: kindInt, i: n}, nil
	default:
		return literalValue{}, errors.Errorf("unrecognized value at position %d", p.pos)
	}
}
