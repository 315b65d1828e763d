package rewrite

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTMLRewriter_LogoExample(t *testing.T) {
	rw := NewHTMLRewriter(newEncoder(), NewStealth(newEncoder()))
	rc := newContext(t, "https://a.com/p/index.html")

	got := assertIdempotent(t, rw, `<html><head></head><body><img src="/logo.png"></body></html>`, rc)

	assert.Contains(t, got, `<img src="/api/proxy?url=https%3A%2F%2Fa.com%2Flogo.png">`)
	assert.Equal(t, 1, strings.Count(got, StealthMarker))
	assert.True(t, strings.HasPrefix(got, `<html><head><script `+StealthMarker), "script should follow <head>: %q", got)
}

func TestHTMLRewriter_Attributes(t *testing.T) {
	rw := NewHTMLRewriter(newEncoder(), nil)
	rc := newContext(t, "https://a.com/p/index.html")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "data-src is its own attribute",
			input: `<img data-src="lazy.jpg">`,
			want:  `<img data-src="/api/proxy?url=https%3A%2F%2Fa.com%2Fp%2Flazy.jpg">`,
		},
		{
			name:  "single quotes kept",
			input: `<a href='//b.com/x'>`,
			want:  `<a href='/api/proxy?url=https%3A%2F%2Fb.com%2Fx'>`,
		},
		{
			name:  "entity in value",
			input: `<a href="/s?a=1&amp;b=2">`,
			want:  `<a href="/api/proxy?url=https%3A%2F%2Fa.com%2Fs%3Fa%3D1%26b%3D2">`,
		},
		{
			name:  "fragment and javascript untouched",
			input: `<a href="#top"></a><a href="javascript:void(0)"></a>`,
			want:  `<a href="#top"></a><a href="javascript:void(0)"></a>`,
		},
		{
			name:  "form action and poster",
			input: `<form action="/go"></form><video poster="p.jpg"></video>`,
			want:  `<form action="/api/proxy?url=https%3A%2F%2Fa.com%2Fgo"></form><video poster="/api/proxy?url=https%3A%2F%2Fa.com%2Fp%2Fp.jpg"></video>`,
		},
		{
			name:  "srcset descriptors kept",
			input: `<img srcset="a.png 1x,  /b.png 2x">`,
			want:  `<img srcset="/api/proxy?url=https%3A%2F%2Fa.com%2Fp%2Fa.png 1x, /api/proxy?url=https%3A%2F%2Fa.com%2Fb.png 2x">`,
		},
		{
			name:  "inline style url",
			input: `<div style="background:url('/bg.png')"></div>`,
			want:  `<div style="background:url(&#34;/api/proxy?url=https%3A%2F%2Fa.com%2Fbg.png&#34;)"></div>`,
		},
		{
			name:  "text content untouched",
			input: `<p>src is a word</p>`,
			want:  `<p>src is a word</p>`,
		},
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

func TestHTMLRewriter_InjectionPoint(t *testing.T) {
	rw := NewHTMLRewriter(newEncoder(), NewStealth(newEncoder()))
	rc := newContext(t, "https://a.com/")

	tests := []struct {
		name   string
		input  string
		prefix string
	}{
		{"head with attributes", `<!DOCTYPE html><html><head lang="en"><title>x</title></head></html>`, `<!DOCTYPE html><html><head lang="en"><script `},
		{"header element is not head", `<html><body><header></header></body></html>`, `<html><script `},
		{"doctype only", `<!doctype html><p>x</p>`, `<!doctype html><script `},
		{"fragment", `<p>x</p>`, `<script `},
		{"script before head", `<html><script>boot()</script><head></head></html>`, `<html><script ` + StealthMarker},
		{"script before html", `<!DOCTYPE html><script src="/a.js"></script><html><head></head></html>`, `<!DOCTYPE html><script ` + StealthMarker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := assertIdempotent(t, rw, tt.input, rc)
			assert.True(t, strings.HasPrefix(got, tt.prefix), "got %q", got)
			assert.Equal(t, 1, strings.Count(got, StealthMarker))
		})
	}
}

func TestRelaxHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'self'")
	h.Set("Content-Security-Policy-Report-Only", "default-src 'self'")
	h.Set("Content-Type", "text/html")

	RelaxHeaders(h)

	assert.Equal(t, []string{"ALLOWALL"}, h.Values("X-Frame-Options"))
	assert.Equal(t, []string{""}, h.Values("Content-Security-Policy"))
	assert.Empty(t, h.Values("Content-Security-Policy-Report-Only"))
	assert.Equal(t, "text/html", h.Get("Content-Type"))
}
