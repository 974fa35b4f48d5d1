package utils

// MatchIdentity checks if the given identity string matches the provided
// pattern. A '*' in the pattern matches any sequence of characters
// (including none); every other character matches literally. Unlike
// path.Match there is no special treatment of '/' or '?', so patterns like
// "*@example.com" behave the same regardless of the identity's shape.
func MatchIdentity(identity, pattern string) bool {
	iIdx, pIdx := 0, 0
	star, backtrack := -1, 0

	for iIdx < len(identity) {
		switch {
		case pIdx < len(pattern) && pattern[pIdx] == '*':
			// Remember the star and try matching zero characters first.
			star = pIdx
			backtrack = iIdx
			pIdx++
		case pIdx < len(pattern) && pattern[pIdx] == identity[iIdx]:
			iIdx++
			pIdx++
		case star >= 0:
			// Literal mismatch after a star: widen the star by one and retry.
			backtrack++
			iIdx = backtrack
			pIdx = star + 1
		default:
			return false
		}
	}

	// Trailing stars match the empty tail.
	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(pattern)
}
