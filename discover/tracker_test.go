package discover

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(0, 0)
	if err != nil {
		t.Fatalf("NewTracker() error: %v", err)
	}
	t.Cleanup(func() {
		if err := tr.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return tr
}

func TestTracker_AddAndSeen(t *testing.T) {
	tr := newTestTracker(t)
	url := "https://example.com/page"

	if tr.Seen(url) {
		t.Error("Seen() true for new URL")
	}
	if !tr.Add(url) {
		t.Error("Add() false for first add")
	}
	if tr.Add(url) {
		t.Error("Add() true for repeated add")
	}
	if !tr.Seen(url) {
		t.Error("Seen() false after Add()")
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := newTestTracker(t)
	tr.Add("https://example.com/a")

	tr.Reset()

	if tr.Seen("https://example.com/a") {
		t.Error("Seen() true after Reset()")
	}
	if !tr.Add("https://example.com/a") {
		t.Error("Add() false after Reset()")
	}
	if err := tr.LastError(); err != nil {
		t.Errorf("LastError() = %v", err)
	}
}

func TestTracker_ConcurrentAddOnce(t *testing.T) {
	tr := newTestTracker(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Add("https://example.com/shared") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("expected exactly one winning Add, got %d", got)
	}
}

func TestTracker_SyncsAcrossThreshold(t *testing.T) {
	tr := newTestTracker(t)

	for i := range 2500 {
		if !tr.Add(fmt.Sprintf("https://example.com/page/%d", i)) {
			t.Fatalf("Add() false for unique URL %d", i)
		}
	}
	for i := range 2500 {
		if !tr.Seen(fmt.Sprintf("https://example.com/page/%d", i)) {
			t.Fatalf("Seen() false for added URL %d", i)
		}
	}
	if err := tr.LastError(); err != nil {
		t.Errorf("LastError() = %v", err)
	}
}

func TestTracker_CloseRemovesFile(t *testing.T) {
	tr, err := NewTracker(1000, 0.01)
	if err != nil {
		t.Fatalf("NewTracker() error: %v", err)
	}
	path := tr.tmpPath
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("temp file missing: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("temp file still present after Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
