package discover

import (
	"errors"
	"fmt"
	"os"
	"sync"

	bloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/edsrzf/mmap-go"
)

const (
	defaultTrackerCapacity = 100_000
	defaultFalsePositive   = 0.001
	trackerSyncEvery       = 1000
)

// Tracker remembers which link URLs were already admitted to the current
// run. It is a bloom filter mirrored to a memory-mapped temp file, so a
// false positive can hide a new link but a seen link is never re-admitted.
type Tracker struct {
	mu      sync.Mutex
	filter  *bloom.BloomFilter
	file    *os.File
	mmap    mmap.MMap
	tmpPath string
	pending uint64 // Adds since last sync
	lastErr error
}

// NewTracker creates a tracker sized for capacity URLs at the given false
// positive rate. Zero values select 100,000 URLs at 0.1%.
func NewTracker(capacity uint, fpRate float64) (*Tracker, error) {
	if capacity == 0 {
		capacity = defaultTrackerCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = defaultFalsePositive
	}
	filter := bloom.NewWithEstimates(capacity, fpRate)

	data, err := filter.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal bloom filter: %w", err)
	}

	tmpFile, err := os.CreateTemp("", "zombiecheck-seen-*.bloom")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}

	if err := tmpFile.Truncate(int64(len(data))); err != nil {
		cleanup()
		return nil, fmt.Errorf("truncate temp file: %w", err)
	}
	mapped, err := mmap.MapRegion(tmpFile, len(data), mmap.RDWR, 0, 0)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mmap temp file: %w", err)
	}
	copy(mapped, data)

	return &Tracker{
		filter:  filter,
		file:    tmpFile,
		mmap:    mapped,
		tmpPath: tmpPath,
	}, nil
}

// Add records url and reports whether it was new.
func (t *Tracker) Add(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filter.TestOrAddString(url) {
		return false
	}
	t.pending++
	if t.pending >= trackerSyncEvery {
		if err := t.syncLocked(); err != nil {
			t.lastErr = err
		}
	}
	return true
}

// Seen reports whether url was added since the last Reset.
func (t *Tracker) Seen(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filter.TestString(url)
}

// Reset forgets every URL. A new run starts from an empty tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.filter.ClearAll()
	if t.mmap == nil {
		return
	}
	if err := t.syncLocked(); err != nil {
		t.lastErr = err
	}
}

// syncLocked mirrors the filter into the mapped file. Must be called with
// mu held.
func (t *Tracker) syncLocked() error {
	t.pending = 0
	if t.mmap == nil {
		return nil
	}
	data, err := t.filter.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal bloom filter: %w", err)
	}
	copy(t.mmap, data)
	if err := t.mmap.Flush(); err != nil {
		return fmt.Errorf("flush mmap: %w", err)
	}
	return nil
}

// LastError returns the last error from a background sync.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Close releases the mapping and removes the temp file. It is safe to call
// more than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.lastErr != nil {
		errs = append(errs, t.lastErr)
		t.lastErr = nil
	}

	if t.mmap != nil {
		if t.pending > 0 {
			if err := t.syncLocked(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := t.mmap.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("unmap: %w", err))
		}
		t.mmap = nil
	}
	if t.file != nil {
		if err := t.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close file: %w", err))
		}
		t.file = nil
	}
	if t.tmpPath != "" {
		if err := os.Remove(t.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove temp file: %w", err))
		}
		t.tmpPath = ""
	}

	if len(errs) > 0 {
		return fmt.Errorf("close tracker: %w", errors.Join(errs...))
	}
	return nil
}
