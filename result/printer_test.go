package result

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPrintResults_NoBrokenLinks(t *testing.T) {
	var buf bytes.Buffer
	r := &Result{
		Stats: RunStats{Total: 10, Checked: 10, Duration: time.Second},
	}

	PrintResults(&buf, r)

	got := buf.String()
	want := "No broken links found!\nChecked 10 of 10 links, found 0 broken (0 skipped)\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPrintResults_WithBrokenLinks(t *testing.T) {
	var buf bytes.Buffer
	r := &Result{
		BrokenLinks: []LinkResult{
			{URL: "http://example.com/dead", StatusCode: 404, Error: "GET error 404", SourcePage: "http://example.com/"},
			{URL: "http://example.com/fail", Error: "HEAD timeout (after 2 attempts)"},
		},
		Stats: RunStats{Total: 50, Checked: 50, BrokenCount: 2, SkippedCount: 3, Duration: 5 * time.Second},
	}

	PrintResults(&buf, r)
	got := buf.String()

	for _, want := range []string{
		"Broken Links:",
		"URL: http://example.com/dead",
		"Reason: GET error 404",
		"Found on: http://example.com/",
		"URL: http://example.com/fail",
		"Reason: HEAD timeout (after 2 attempts)",
		"Checked 50 of 50 links, found 2 broken (3 skipped)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "Found on:") != 1 {
		t.Errorf("expected source page only for the first link, got:\n%s", got)
	}
}
