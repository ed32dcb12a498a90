package utils

// MatchName checks a plain name (role name, action name) against a pattern.
// Patterns may include '*', which matches any sequence of characters
// (including none). A pattern without wildcards matches only exactly.
func MatchName(value, pattern string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	return matchWildcard(value, pattern)
}

// MatchAny reports whether value matches at least one of the patterns.
func MatchAny(value string, patterns ...string) bool {
	for _, p := range patterns {
		if MatchName(value, p) {
			return true
		}
	}
	return false
}

// matchWildcard matches value against pattern with '*' wildcards using
// greedy backtracking over a single scan.
func matchWildcard(value, pattern string) bool {
	vIdx, pIdx := 0, 0
	starIdx, backtrack := -1, 0

	for vIdx < len(value) {
		switch {
		case pIdx < len(pattern) && (pattern[pIdx] == value[vIdx]):
			vIdx++
			pIdx++
		case pIdx < len(pattern) && pattern[pIdx] == '*':
			starIdx = pIdx
			backtrack = vIdx
			pIdx++
		case starIdx != -1:
			pIdx = starIdx + 1
			backtrack++
			vIdx = backtrack
		default:
			return false
		}
	}
	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(pattern)
}
