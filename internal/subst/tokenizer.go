package subst

import "strings"

// Parse scans template left to right for [#$]NAME(selector)? occurrences,
// splitting it into a sequence of Literal and Ref nodes. Selector text
// (between matching brackets) is captured verbatim and is not parsed here
// -- nested brackets inside a selector are balanced but otherwise opaque
// until evaluation, since selectors may themselves contain references.
//
// The scan finds the next [#$]\w+ run, then if immediately followed by
// '[' or '{' scans forward counting nesting depth until the matching
// close bracket, or fails the match (treats it as a bare name with no
// selector) if none closes.
func Parse(template string) *Template {
	var nodes []Node
	lastPos := 0
	pos := 0
	n := len(template)

	for pos < n {
		start, end, ref, ok := scanNext(template, pos)
		if !ok {
			break
		}
		if start > lastPos {
			nodes = append(nodes, Literal{Text: template[lastPos:start]})
		}
		nodes = append(nodes, ref)
		lastPos = end
		pos = end
	}
	if lastPos < n {
		nodes = append(nodes, Literal{Text: template[lastPos:]})
	}
	return &Template{Nodes: nodes}
}

// scanNext finds the next [#$]NAME(selector)? starting at or after from.
func scanNext(s string, from int) (start, end int, ref Ref, ok bool) {
	for i := from; i < len(s); i++ {
		c := s[i]
		if c != '#' && c != '$' {
			continue
		}
		nameEnd := i + 1
		for nameEnd < len(s) && isNameByte(s[nameEnd]) {
			nameEnd++
		}
		if nameEnd == i+1 {
			// no name characters followed the sigil; not a reference
			continue
		}

		op := OpValue
		if c == '#' {
			op = OpCount
		}
		name := s[i+1 : nameEnd]

		if nameEnd >= len(s) {
			return i, nameEnd, Ref{Op: op, Name: name, Bracket: NoBracket}, true
		}

		open := s[nameEnd]
		if open != '[' && open != '{' {
			return i, nameEnd, Ref{Op: op, Name: name, Bracket: NoBracket}, true
		}

		closeCh := byte(']')
		bracket := SquareBracket
		if open == '{' {
			closeCh = '}'
			bracket = CurlyBracket
		}

		depth := 0
		selEnd := nameEnd
		closed := false
		for j := nameEnd; j < len(s); j++ {
			switch s[j] {
			case open:
				depth++
			case closeCh:
				depth--
				if depth == 0 {
					selEnd = j + 1
					closed = true
				}
			}
			if closed {
				break
			}
		}
		if !closed {
			// no closing bracket: fall back to a bare name reference, and
			// let scanning resume right after the name (matches the
			// original's "startpos, endpos = None, None" bail-out, which
			// effectively leaves the rest of the string untouched).
			return i, nameEnd, Ref{Op: op, Name: name, Bracket: NoBracket}, true
		}

		return i, selEnd, Ref{Op: op, Name: name, Bracket: bracket, Select: s[nameEnd+1 : selEnd-1]}, true
	}
	return 0, 0, Ref{}, false
}

func isNameByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// HasReferences reports whether s contains any $NAME/#NAME occurrence,
// used to fast-path the idempotence invariant for literal-only templates.
func HasReferences(s string) bool {
	return strings.ContainsAny(s, "#$") && Parse(s).hasRef()
}

func (t *Template) hasRef() bool {
	for _, n := range t.Nodes {
		if _, ok := n.(Ref); ok {
			return true
		}
	}
	return false
}
