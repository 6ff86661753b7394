package util

// TruncateRunes shortens s to at most max runes. Slicing happens on rune
// boundaries so multi-byte characters are never split.
func TruncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
