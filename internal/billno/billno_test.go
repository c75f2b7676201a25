package billno

import (
	"strings"
	"testing"
)

func TestNewFormat(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		n := New()
		if len(n) != 8 {
			t.Fatalf("bill number %q has length %d, want 8", n, len(n))
		}
		if n != strings.ToUpper(n) {
			t.Fatalf("bill number %q is not uppercase", n)
		}
		for _, c := range n {
			if !strings.ContainsRune("0123456789ABCDEF", c) {
				t.Fatalf("bill number %q contains non-hex %q", n, c)
			}
		}
		seen[n] = struct{}{}
	}
	if len(seen) < 99 {
		t.Fatalf("only %d distinct numbers out of 100", len(seen))
	}
}
