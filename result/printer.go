package result

import (
	"fmt"
	"io"
)

// PrintResults writes broken link details and a summary to w.
func PrintResults(w io.Writer, res *Result) {
	writef := func(format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

	if len(res.BrokenLinks) == 0 {
		writef("No broken links found!\n")
	} else {
		writef("Broken Links:\n")
		for i, link := range res.BrokenLinks {
			writef("  URL: %s\n", link.URL)
			writef("  Reason: %s\n", link.Error)
			if link.SourcePage != "" {
				writef("  Found on: %s\n", link.SourcePage)
			}
			if i < len(res.BrokenLinks)-1 {
				writef("\n")
			}
		}
	}
	writef("Checked %d of %d links, found %d broken (%d skipped)\n",
		res.Stats.Checked, res.Stats.Total, res.Stats.BrokenCount, res.Stats.SkippedCount)
}
