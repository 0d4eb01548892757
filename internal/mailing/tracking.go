package mailing

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

// Tracking endpoint paths, relative to the tracking base URL.
const (
	OpenPath  = "/track/open"
	ClickPath = "/track/click"
)

// hrefPattern matches an absolute http(s) anchor target. Group 2 is the URL.
var hrefPattern = regexp.MustCompile(`(?i)(href\s*=\s*["'])(https?://[^"']+)(["'])`)

var bodyClosePattern = regexp.MustCompile(`(?i)</body\s*>`)

// Options toggles the two tracking transforms independently.
type Options struct {
	TrackOpens  bool
	TrackClicks bool
}

// DefaultOptions tracks both opens and clicks.
func DefaultOptions() Options {
	return Options{TrackOpens: true, TrackClicks: true}
}

// Preparer injects open pixels and click redirects into outgoing HTML.
type Preparer struct {
	baseURL string
}

// NewPreparer creates a preparer whose tracking URLs are rooted at baseURL.
func NewPreparer(baseURL string) *Preparer {
	return &Preparer{baseURL: strings.TrimRight(baseURL, "/")}
}

// OpenURL returns the pixel URL for a tracking id.
func (p *Preparer) OpenURL(trackingID string) string {
	return fmt.Sprintf("%s%s?tid=%s", p.baseURL, OpenPath, url.QueryEscape(trackingID))
}

// ClickURL returns the redirect URL carrying the tracking id and the
// escaped destination.
func (p *Preparer) ClickURL(trackingID, destination string) string {
	return fmt.Sprintf("%s%s?tid=%s&url=%s", p.baseURL, ClickPath, url.QueryEscape(trackingID), url.QueryEscape(destination))
}

// AddOpenPixel inserts the 1x1 pixel just before the closing body tag, or
// appends it when the document has none.
func (p *Preparer) AddOpenPixel(body, trackingID string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt="" />`, p.OpenURL(trackingID))
	if m := bodyClosePattern.FindAllStringIndex(body, -1); len(m) > 0 {
		i := m[len(m)-1][0]
		return body[:i] + pixel + body[i:]
	}
	return body + pixel
}

// WrapLinks routes every absolute http(s) href through the click endpoint.
// Links already pointing at the click endpoint are left alone.
func (p *Preparer) WrapLinks(body, trackingID string) string {
	clickPrefix := p.baseURL + ClickPath
	return hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
		m := hrefPattern.FindStringSubmatch(match)
		if strings.HasPrefix(m[2], clickPrefix) {
			return match
		}
		destination := html.UnescapeString(m[2])
		return m[1] + p.ClickURL(trackingID, destination) + m[3]
	})
}

// Prepare applies the enabled transforms. Links are wrapped first so the
// pixel URL is never rewritten.
func (p *Preparer) Prepare(body, trackingID string, opts Options) string {
	if opts.TrackClicks {
		body = p.WrapLinks(body, trackingID)
	}
	if opts.TrackOpens {
		body = p.AddOpenPixel(body, trackingID)
	}
	return body
}
