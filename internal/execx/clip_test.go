package execx

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClipShortOutputUnchanged(t *testing.T) {
	t.Parallel()

	in := "Message sent successfully\n"
	if got := Clip(in, 1024, 10); got != in {
		t.Fatalf("expected unchanged output, got %q", got)
	}
}

func TestClipKeepsHeadAndTail(t *testing.T) {
	t.Parallel()

	lines := make([]string, 1000)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %03d", i)
	}
	got := Clip(strings.Join(lines, "\n"), 200, 10)

	if len(got) > 200 {
		t.Fatalf("expected at most 200 bytes, got %d", len(got))
	}
	if n := lineCount(got); n > 10 {
		t.Fatalf("expected at most 10 lines, got %d", n)
	}
	if !strings.HasPrefix(got, "line 000\n") {
		t.Fatalf("head missing: %q", got)
	}
	if !strings.HasSuffix(got, "line 999") {
		t.Fatalf("tail missing: %q", got)
	}
	if !strings.Contains(got, "1000 lines clipped") {
		t.Fatalf("marker missing: %q", got)
	}
}

func TestClipRespectsRuneBoundaries(t *testing.T) {
	t.Parallel()

	got := Clip(strings.Repeat("é", 500), 101, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("clipped output is not valid UTF-8: %q", got)
	}
	if len(got) > 101 {
		t.Fatalf("expected at most 101 bytes, got %d", len(got))
	}
}

func TestClipTinyBudget(t *testing.T) {
	t.Parallel()

	got := Clip("abcdef\nghijkl\nmnopqr", 4, 2)
	if got != "abcd" {
		t.Fatalf("unexpected clip: %q", got)
	}
}
