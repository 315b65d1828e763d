package rewrite

import (
	"testing"

	"stealth-proxy-go/pkg/types"
)

func TestScriptRewriter_Rewrite(t *testing.T) {
	rw := NewScriptRewriter(newEncoder())
	rc := newContext(t, "https://a.com/js/app.js")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"double quoted absolute", `var u = "https://cdn.a.com/v.m3u8";`, `var u = "/api/proxy?url=https%3A%2F%2Fcdn.a.com%2Fv.m3u8";`},
		{"single quoted protocol relative", `load('//b.com/x.js')`, `load('/api/proxy?url=https%3A%2F%2Fb.com%2Fx.js')`},
		{"relative literal untouched", `fetch("/api/data")`, `fetch("/api/data")`},
		{"already proxied untouched", `"/api/proxy?url=https%3A%2F%2Fa.com"`, `"/api/proxy?url=https%3A%2F%2Fa.com"`},
		{"comment untouched", `// https://a.com/doc`, `// https://a.com/doc`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := assertIdempotent(t, rw, tt.input, rc)
			if got != tt.want {
				t.Errorf("Rewrite() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONRewriter(t *testing.T) {
	rw := NewJSONRewriter(newEncoder())
	if rw.Category() != types.CategoryJSON {
		t.Fatalf("Category() = %q, want %q", rw.Category(), types.CategoryJSON)
	}
	rc := newContext(t, "https://a.com/api/item")
	got := assertIdempotent(t, rw, `{"stream":"https://v.com/a.mp4","id":3}`, rc)
	want := `{"stream":"/api/proxy?url=https%3A%2F%2Fv.com%2Fa.mp4","id":3}`
	if got != want {
		t.Errorf("Rewrite() = %q, want %q", got, want)
	}
}
