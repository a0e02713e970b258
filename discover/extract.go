// Package discover finds the links to check: anchors in an HTML document,
// lines of a URL list, and links that appear while a run is in progress.
package discover

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"golang.org/x/net/html"

	"github.com/lukemcguire/zombiecheck/crawler"
	"github.com/lukemcguire/zombiecheck/urlutil"
)

// ErrNoLinks is returned by a Source that found nothing to check.
var ErrNoLinks = errors.New("no links found")

// Link is a discovered target.
type Link struct {
	URL        string
	Text       string
	SourcePage string
}

// FromHTML parses an HTML document and returns its anchor targets in
// document order. Relative hrefs are resolved against the document's
// <base href> and then against base, which may be nil. Fragment-only
// hrefs and non-HTTP schemes are skipped; the remaining URLs are
// normalized and deduplicated.
func FromHTML(body io.Reader, base *url.URL) ([]Link, error) {
	root, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	resolveBase := documentBase(doc, base)
	sourcePage := ""
	if base != nil {
		sourcePage = base.String()
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		if resolveBase != nil {
			ref = resolveBase.ResolveReference(ref)
		}

		target := ref.String()
		if !urlutil.IsHTTPScheme(target) {
			return
		}
		normalized, err := urlutil.Normalize(target)
		if err != nil {
			return
		}

		links = append(links, Link{
			URL:        normalized,
			Text:       strings.Join(strings.Fields(sel.Text()), " "),
			SourcePage: sourcePage,
		})
	})

	return lo.UniqBy(links, func(l Link) string { return l.URL }), nil
}

// documentBase returns the URL relative links resolve against: the first
// <base href> resolved against base, or base itself.
func documentBase(doc *goquery.Document, base *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return base
	}
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return base
	}
	if base == nil {
		if parsed.IsAbs() {
			return parsed
		}
		return nil
	}
	return base.ResolveReference(parsed)
}

// ToItems wraps links as checkable items. The Link is kept as the item
// handle so markers can refer back to it.
func ToItems(links []Link) []*crawler.Item {
	return lo.Map(links, func(l Link, _ int) *crawler.Item {
		return &crawler.Item{URL: l.URL, SourcePage: l.SourcePage, Handle: l}
	})
}
