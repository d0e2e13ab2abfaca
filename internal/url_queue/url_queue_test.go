package urlqueue

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/lote/1#fotos", "https://example.com/lote/1"},
		{"https://example.com:443/peca.asp?ID=7", "https://example.com/peca.asp?ID=7"},
		{"http://example.com:80", "http://example.com/"},
		{"//www.example.com/a", "https://www.example.com/a"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestQueueAdmitsOnce(t *testing.T) {
	q := NewURLQueue("iarremate", 0)
	require.True(t, q.Add("https://example.com/lote/1"))
	require.False(t, q.Add("https://EXAMPLE.com/lote/1#top"))
	require.True(t, q.Add("https://example.com/lote/2"))
	require.Equal(t, 2, q.Size())

	u, ok := q.Get()
	require.True(t, ok)
	require.Equal(t, "https://example.com/lote/1", u)

	// a drained URL is still remembered
	require.False(t, q.Add("https://example.com/lote/1"))

	q.Get()
	_, ok = q.Get()
	require.False(t, ok)
}

func TestQueueRespectsMaxItems(t *testing.T) {
	q := NewURLQueue("s", 2)
	require.True(t, q.Add("https://example.com/1"))
	require.True(t, q.Add("https://example.com/2"))
	require.False(t, q.Add("https://example.com/3"))
}

func TestResolve(t *testing.T) {
	base, _ := url.Parse("https://example.com/catalogo/pinturas?pg=2")

	got, ok := Resolve(base, "../peca.asp?ID=5#x")
	require.True(t, ok)
	require.Equal(t, "https://example.com/peca.asp?ID=5", got)

	for _, href := range []string{"", "#top", "mailto:a@b.com", "javascript:void(0)"} {
		_, ok := Resolve(base, href)
		require.False(t, ok, href)
	}
	_, ok = Resolve(nil, "/lote/1")
	require.False(t, ok)
	got, ok = Resolve(nil, "https://Example.com:443/lote/1")
	require.True(t, ok)
	require.Equal(t, "https://example.com/lote/1", got)

	require.Equal(t, "https://mirror.example.org", SiteOf("https://Mirror.example.org/lote/9"))
}

func TestRules(t *testing.T) {
	r, err := CompileRules([]string{`/peca\.asp`, `/lote/`}, []string{`/login`, `\.pdf$`})
	require.NoError(t, err)

	require.True(t, r.ShouldFollow("https://example.com/peca.asp?ID=1"))
	require.True(t, r.ShouldFollow("https://example.com/lote/9"))
	require.False(t, r.ShouldFollow("https://example.com/lote/9/catalogo.pdf"))
	require.False(t, r.ShouldFollow("https://example.com/sobre"))

	open, err := CompileRules(nil, []string{`/login`})
	require.NoError(t, err)
	require.True(t, open.ShouldFollow("https://example.com/anything"))
	require.False(t, open.ShouldFollow("https://example.com/login"))

	_, err = CompileRules([]string{"("}, nil)
	require.Error(t, err)
}

const sitemapIndex = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-lotes.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-missing.xml</loc></sitemap>
</sitemapindex>`

const sitemapLots = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/peca.asp?ID=1</loc></url>
  <url><loc>https://example.com/peca.asp?ID=2</loc></url>
  <url><loc>https://example.com/sobre</loc></url>
</urlset>`

func TestSeedFromSitemap(t *testing.T) {
	docs := map[string]string{
		"https://example.com/sitemap.xml":      sitemapIndex,
		"https://example.com/sitemap-lotes.xml": sitemapLots,
	}
	load := func(_ context.Context, u string) ([]byte, error) {
		body, ok := docs[u]
		if !ok {
			return nil, errors.New("404")
		}
		return []byte(body), nil
	}
	rules, err := CompileRules([]string{`peca\.asp`}, nil)
	require.NoError(t, err)

	q := NewURLQueue("example", 0)
	n, err := q.SeedFromSitemap(context.Background(), load, "https://example.com/sitemap.xml", rules)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, q.Size())

	_, err = q.SeedFromSitemap(context.Background(), load, "https://example.com/nope.xml", rules)
	require.Error(t, err)
}

func TestParseSitemapRejectsOtherXML(t *testing.T) {
	_, _, err := ParseSitemap([]byte(`<rss><channel/></rss>`))
	require.Error(t, err)
}
