package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Note: only trim + lower-case; local-part folding rules are provider specific.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}
