package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stealth-proxy-go/pkg/types"
)

type stubRewriter struct {
	category types.ContentCategory
}

func (s stubRewriter) Category() types.ContentCategory { return s.category }

func (s stubRewriter) Rewrite(content []byte, _ *types.RewriteContext) []byte { return content }

func TestRewriterRegistry(t *testing.T) {
	r := NewRewriterRegistry()
	r.Register(stubRewriter{types.CategoryHTML})
	r.Register(stubRewriter{types.CategoryCSS})

	assert.NotNil(t, r.Get(types.CategoryHTML))
	assert.Nil(t, r.Get(types.CategoryPassthrough))

	all := r.All()
	if assert.Len(t, all, 2) {
		assert.Equal(t, types.CategoryCSS, all[0].Category())
		assert.Equal(t, types.CategoryHTML, all[1].Category())
	}
}

func TestSiteRegistry(t *testing.T) {
	r := NewSiteRegistry()
	r.Register(types.Site{Name: "kpm", Origin: "https://k.example"})
	r.Register(types.Site{Name: "abc", Origin: "https://a.example"})

	site, ok := r.Get("kpm")
	assert.True(t, ok)
	assert.Equal(t, "https://k.example", site.Origin)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"abc", "kpm"}, r.Names())
}
