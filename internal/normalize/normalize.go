package normalize

import "strings"

// Phone returns the canonical form of a phone number used as a user
// identity: surrounding whitespace is trimmed and the common visual
// separators (spaces, dashes, dots, parentheses) are dropped. A single
// leading '+' is preserved.
func Phone(p string) string {
	p = strings.TrimSpace(p)
	var b strings.Builder
	b.Grow(len(p))
	for i, r := range p {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separator
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether p, after normalization, looks like a phone
// number: an optional leading '+' followed by 5 to 15 digits.
func ValidPhone(p string) bool {
	p = strings.TrimPrefix(Phone(p), "+")
	if len(p) < 5 || len(p) > 15 {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
