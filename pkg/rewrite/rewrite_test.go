package rewrite

import (
	"testing"

	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

func newContext(t *testing.T, target string) *types.RewriteContext {
	t.Helper()
	rc, err := urlutil.NewRewriteContext(target, "")
	if err != nil {
		t.Fatalf("NewRewriteContext(%q) error = %v", target, err)
	}
	return rc
}

func newEncoder() *urlutil.Encoder {
	return urlutil.NewEncoder("/api/proxy")
}

// assertIdempotent checks that a second pass leaves the output unchanged.
func assertIdempotent(t *testing.T, rw interface {
	Rewrite([]byte, *types.RewriteContext) []byte
}, input string, rc *types.RewriteContext) string {
	t.Helper()
	once := string(rw.Rewrite([]byte(input), rc))
	twice := string(rw.Rewrite([]byte(once), rc))
	if once != twice {
		t.Errorf("second pass changed output:\nonce:  %q\ntwice: %q", once, twice)
	}
	return once
}
