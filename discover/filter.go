package discover

import (
	"context"

	"github.com/samber/lo"

	"github.com/lukemcguire/zombiecheck/urlutil"
)

// Filter drops links before they are admitted to a run.
type Filter func(ctx context.Context, links []Link) []Link

// SameDomain keeps links on host or one of its subdomains.
func SameDomain(host string) Filter {
	return func(_ context.Context, links []Link) []Link {
		return lo.Filter(links, func(l Link, _ int) bool {
			return urlutil.IsSameDomain(l.URL, host)
		})
	}
}

// Chain applies filters in order. Nil filters are ignored; with none left
// Chain returns nil.
func Chain(filters ...Filter) Filter {
	filters = lo.Filter(filters, func(f Filter, _ int) bool { return f != nil })
	if len(filters) == 0 {
		return nil
	}
	return func(ctx context.Context, links []Link) []Link {
		for _, f := range filters {
			links = f(ctx, links)
		}
		return links
	}
}
