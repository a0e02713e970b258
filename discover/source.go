package discover

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/lukemcguire/zombiecheck/urlutil"
)

// maxDocumentSize caps how much of a fetched page is parsed.
const maxDocumentSize = 10 << 20

// Source yields the current set of links to check. Calling Links again
// re-reads the underlying document, which is how the watcher notices new
// links.
type Source interface {
	Links(ctx context.Context) ([]Link, error)
	String() string
}

// PageSource fetches an HTML page over HTTP and extracts its anchors.
type PageSource struct {
	URL       string
	Client    *http.Client
	UserAgent string
}

// Links fetches the page and returns its links. Relative hrefs resolve
// against the final URL after redirects.
func (p *PageSource) Links(ctx context.Context) ([]Link, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", p.URL, err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", p.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", p.URL, resp.StatusCode)
	}

	links, err := FromHTML(io.LimitReader(resp.Body, maxDocumentSize), resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("extract links from %s: %w", p.URL, err)
	}
	return links, nil
}

func (p *PageSource) String() string { return p.URL }

// FileSource reads an HTML document from disk. Base, when set, resolves
// relative hrefs; without it only absolute links are found.
type FileSource struct {
	Path string
	Base *url.URL
}

// Links parses the file and returns its links.
func (f *FileSource) Links(_ context.Context) ([]Link, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer func() { _ = file.Close() }()

	links, err := FromHTML(file, f.Base)
	if err != nil {
		return nil, fmt.Errorf("extract links from %s: %w", f.Path, err)
	}

	source := f.Path
	if abs, err := filepath.Abs(f.Path); err == nil {
		source = abs
	}
	if f.Base == nil {
		for i := range links {
			links[i].SourcePage = source
		}
	}
	return links, nil
}

func (f *FileSource) String() string { return f.Path }

// ListSource reads one URL per line. Path "-" reads Stdin, which is only
// consumed once; later calls return the same links.
type ListSource struct {
	Path  string
	Stdin io.Reader

	stdinLinks []Link
}

// Links returns the listed URLs.
func (l *ListSource) Links(_ context.Context) ([]Link, error) {
	if l.Path == "-" {
		if l.stdinLinks != nil {
			return l.stdinLinks, nil
		}
		in := l.Stdin
		if in == nil {
			in = os.Stdin
		}
		links, err := ReadList(in, "stdin")
		if err != nil {
			return nil, err
		}
		l.stdinLinks = links
		return links, nil
	}

	file, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.Path, err)
	}
	defer func() { _ = file.Close() }()
	return ReadList(file, l.Path)
}

func (l *ListSource) String() string { return l.Path }

// ReadList parses a URL list. Blank lines and lines starting with '#' are
// ignored. HTTP URLs are normalized; anything else is kept verbatim so the
// checker can report it as skipped.
func ReadList(r io.Reader, source string) ([]Link, error) {
	var links []Link
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if urlutil.IsHTTPScheme(line) {
			if normalized, err := urlutil.Normalize(line); err == nil {
				line = normalized
			}
		}
		links = append(links, Link{URL: line, SourcePage: source})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list %s: %w", source, err)
	}
	return lo.UniqBy(links, func(l Link) string { return l.URL }), nil
}

// Discover reads src once and fails with ErrNoLinks when it is empty.
func Discover(ctx context.Context, src Source) ([]Link, error) {
	links, err := src.Links(ctx)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%s: %w", src, ErrNoLinks)
	}
	return links, nil
}
