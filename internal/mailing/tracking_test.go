package mailing

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pixelT1 = `<img src="https://t.example.com/track/open?tid=t1" width="1" height="1" style="display:none" alt="" />`

func TestAddOpenPixel(t *testing.T) {
	p := NewPreparer("https://t.example.com/")

	got := p.AddOpenPixel("<html><body><p>x</p></body></html>", "t1")
	assert.Equal(t, "<html><body><p>x</p>"+pixelT1+"</body></html>", got)

	got = p.AddOpenPixel("<p>x</p>", "t1")
	assert.Equal(t, "<p>x</p>"+pixelT1, got)

	got = p.AddOpenPixel("<BODY>hi</Body >", "t1")
	assert.Equal(t, "<BODY>hi"+pixelT1+"</Body >", got)
}

func TestAddOpenPixelMultibyteText(t *testing.T) {
	p := NewPreparer("https://t.example.com/")

	// Both change byte length under case folding.
	for _, text := range []string{strings.Repeat("\u023a", 20), "\u212a\u212a\u212a"} {
		in := "<html><body>" + text + "</body></html>"
		var got string
		require.NotPanics(t, func() { got = p.AddOpenPixel(in, "t1") })
		assert.Equal(t, "<html><body>"+text+pixelT1+"</body></html>", got)
	}
}

func TestWrapLinks(t *testing.T) {
	p := NewPreparer("https://t.example.com")
	in := `<a href="https://deck.example.com/a?x=1&amp;y=2">deck</a> <a href='http://calendly.com/me'>book</a> <a href="mailto:a@b.c">mail</a>`

	out := p.WrapLinks(in, "t1")

	hrefs := hrefPattern.FindAllStringSubmatch(out, -1)
	require.Len(t, hrefs, 2)

	var destinations []string
	for _, h := range hrefs {
		u, err := url.Parse(h[2])
		require.NoError(t, err)
		assert.Equal(t, ClickPath, u.Path)
		assert.Equal(t, "t1", u.Query().Get("tid"))
		destinations = append(destinations, u.Query().Get("url"))
	}
	assert.Equal(t, []string{"https://deck.example.com/a?x=1&y=2", "http://calendly.com/me"}, destinations)
	assert.Contains(t, out, `href="mailto:a@b.c"`)
}

func TestWrapLinksSkipsTrackedLinks(t *testing.T) {
	p := NewPreparer("https://t.example.com")
	once := p.WrapLinks(`<a href="https://x.com">x</a>`, "t1")
	assert.Equal(t, once, p.WrapLinks(once, "t1"))
}

func TestPrepareToggles(t *testing.T) {
	p := NewPreparer("https://t.example.com")
	in := `<body><a href="https://x.com">x</a></body>`

	both := p.Prepare(in, "t1", DefaultOptions())
	assert.Contains(t, both, OpenPath)
	assert.Contains(t, both, ClickPath)
	assert.Equal(t, 1, strings.Count(both, ClickPath), "pixel must not be wrapped")

	assert.NotContains(t, p.Prepare(in, "t1", Options{TrackClicks: true}), OpenPath)
	assert.NotContains(t, p.Prepare(in, "t1", Options{TrackOpens: true}), ClickPath)
	assert.Equal(t, in, p.Prepare(in, "t1", Options{}))
}
