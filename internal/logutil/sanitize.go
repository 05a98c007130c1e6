// Package logutil has small helpers for safe log output.
package logutil

import "strings"

// SanitizeForLog makes an untrusted string safe to interpolate into a log
// line: a value carrying newlines could otherwise forge whole entries.
// Newlines, carriage returns and tabs become single spaces; all other
// control characters are dropped.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32:
			return -1
		default:
			return r
		}
	}, s)
}
