package domain

import "strings"

// NormalizeTimerID maps a raw timer name to its canonical key: lowercased,
// restricted to [a-z0-9_-]; every other character is dropped. An input that
// normalizes to the empty string is rejected with ErrInvalidTimerID.
// Two raw inputs that normalize to the same key refer to the same timer.
func NormalizeTimerID(raw string) (string, error) {
	lower := strings.ToLower(raw)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "", ErrInvalidTimerID
	}
	return b.String(), nil
}
