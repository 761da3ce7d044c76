package execx

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxOutputBytes bounds captured stdout and stderr.
	MaxOutputBytes = 16 * 1024
	// MaxOutputLines bounds captured stdout and stderr.
	MaxOutputLines = 300
)

// Clip shortens s to at most maxBytes and maxLines, keeping the head and
// the tail around a marker line. Cuts never split a UTF-8 sequence.
func Clip(s string, maxBytes, maxLines int) string {
	if maxBytes <= 0 {
		maxBytes = MaxOutputBytes
	}
	if maxLines <= 0 {
		maxLines = MaxOutputLines
	}
	if len(s) <= maxBytes && lineCount(s) <= maxLines {
		return s
	}
	marker := fmt.Sprintf("[... %d bytes, %d lines clipped ...]", len(s), lineCount(s))
	budget := maxBytes - len(marker) - 2
	if budget <= 0 || maxLines < 3 {
		return headOf(s, maxBytes, maxLines)
	}
	head := headOf(s, budget/2, (maxLines-1)/2)
	tail := tailOf(s, budget-len(head), maxLines-1-lineCount(head))
	return head + "\n" + marker + "\n" + tail
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func headOf(s string, maxBytes, maxLines int) string {
	if maxBytes <= 0 || maxLines <= 0 {
		return ""
	}
	if maxBytes < len(s) {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
			if n == maxLines {
				return s[:i]
			}
		}
	}
	return s
}

func tailOf(s string, maxBytes, maxLines int) string {
	if maxBytes <= 0 || maxLines <= 0 {
		return ""
	}
	if maxBytes < len(s) {
		start := len(s) - maxBytes
		for start < len(s) && !utf8.RuneStart(s[start]) {
			start++
		}
		s = s[start:]
	}
	n := 0
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			n++
			if n == maxLines {
				return s[i+1:]
			}
		}
	}
	return s
}
