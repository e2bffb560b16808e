package subst

import (
	"strconv"
	"strings"
)

// MaxDepth is the maximum recursive expansion depth for selector
// content, inclusive of include expansion. Evaluate accepts its own
// budget so callers that also track include-expansion depth
// (internal/event) can pass a smaller remaining budget.
const MaxDepth = 3

// Vars is the flat name->value substitution environment.
type Vars map[string]string

// Evaluate performs one left-to-right substitution pass over template,
// replacing each [#$]NAME(selector)? occurrence exactly once (no
// re-expansion of substituted text). Malformed selectors fall back to
// leaving the original matched text in place; they never error.
func Evaluate(template string, vars Vars) string {
	return evaluateDepth(template, vars, 0)
}

func evaluateDepth(template string, vars Vars, depth int) string {
	t := Parse(template)
	var b strings.Builder
	for _, node := range t.Nodes {
		switch n := node.(type) {
		case Literal:
			b.WriteString(n.Text)
		case Ref:
			b.WriteString(evalRef(n, vars, depth))
		}
	}
	return b.String()
}

func evalRef(ref Ref, vars Vars, depth int) string {
	raw := rawText(ref)
	if depth >= MaxDepth {
		return raw
	}

	nameValue, hasName := vars[ref.Name]

	if ref.Bracket == NoBracket {
		if !hasName {
			return raw
		}
		if ref.Op == OpCount {
			sep := defaultSplitSep(ref.Name)
			return countOf(nameValue, sep)
		}
		return nameValue
	}

	selectText := evaluateDepth(ref.Select, vars, depth+1)
	sel := parseSelectorStructure(selectText)

	splitSep := defaultSplitSep(ref.Name)
	if sel.splitSep != nil {
		splitSep = evaluateDepth(*sel.splitSep, vars, depth+1)
	}
	joinSep := splitSep
	if sel.joinSep != nil {
		joinSep = evaluateDepth(*sel.joinSep, vars, depth+1)
	}

	var nameValues []string
	if splitSep == "" {
		nameValues = strings.Split(nameValue, "")
	} else {
		nameValues = strings.Split(nameValue, splitSep)
	}

	listText := evaluateDepth(sel.list, vars, depth+1)
	items := strings.Split(listText, ",")

	var result string
	switch ref.Bracket {
	case SquareBracket:
		parts := make([]string, len(items))
		for i, it := range items {
			it = evaluateDepth(it, vars, depth+1)
			spec := parseSlice(it)
			start, end, step := resolveSlice(spec)
			parts[i] = strings.Join(pySlice(nameValues, start, end, step), joinSep)
		}
		result = strings.Join(parts, joinSep)
	case CurlyBracket:
		var matched []string
		for _, it := range items {
			pattern := evaluateDepth(it, vars, depth+1)
			for _, v := range nameValues {
				if globMatch(pattern, v) {
					matched = append(matched, v)
				}
			}
		}
		result = strings.Join(matched, joinSep)
	}

	if ref.Op == OpCount && hasName {
		return countOf(result, splitSep)
	}
	if !hasName {
		return raw
	}
	return result
}

func defaultSplitSep(name string) string {
	if name == "HCRON_EVENT_NAME" {
		return "/"
	}
	return ":"
}

func countOf(value, sep string) string {
	if sep == "" {
		return strconv.Itoa(len(value) + 1)
	}
	return strconv.Itoa(strings.Count(value, sep) + 1)
}

func rawText(ref Ref) string {
	sigil := "$"
	if ref.Op == OpCount {
		sigil = "#"
	}
	switch ref.Bracket {
	case SquareBracket:
		return sigil + ref.Name + "[" + ref.Select + "]"
	case CurlyBracket:
		return sigil + ref.Name + "{" + ref.Select + "}"
	default:
		return sigil + ref.Name
	}
}
