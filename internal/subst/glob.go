package subst

// globMatch reports whether name matches a shell-style pattern supporting
// '*' (any run of characters, including none), '?' (any single
// character), and '[...]' character classes. Unlike path.Match, '*' here
// matches '/' too, since hcron list items are not necessarily paths
// (mirrors Python's fnmatch, which has no path awareness).
func globMatch(pattern, name string) bool {
	return globMatchRunes([]rune(pattern), []rune(name))
}

func globMatchRunes(pat, name []rune) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case '*':
			// collapse consecutive stars
			for len(pat) > 0 && pat[0] == '*' {
				pat = pat[1:]
			}
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if globMatchRunes(pat, name[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(name) == 0 {
				return false
			}
			pat = pat[1:]
			name = name[1:]
		case '[':
			end := indexRune(pat, ']', 1)
			if end < 0 {
				// malformed class: treat '[' literally
				if len(name) == 0 || name[0] != '[' {
					return false
				}
				pat = pat[1:]
				name = name[1:]
				continue
			}
			if len(name) == 0 || !matchClass(pat[1:end], name[0]) {
				return false
			}
			pat = pat[end+1:]
			name = name[1:]
		default:
			if len(name) == 0 || name[0] != pat[0] {
				return false
			}
			pat = pat[1:]
			name = name[1:]
		}
	}
	return len(name) == 0
}

func indexRune(s []rune, r rune, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == r {
			return i
		}
	}
	return -1
}

func matchClass(class []rune, c rune) bool {
	negate := false
	if len(class) > 0 && (class[0] == '!' || class[0] == '^') {
		negate = true
		class = class[1:]
	}
	matched := false
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= c && c <= class[i+2] {
				matched = true
			}
			i += 2
			continue
		}
		if class[i] == c {
			matched = true
		}
	}
	return matched != negate
}
