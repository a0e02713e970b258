package result

import "time"

// Status is the terminal classification of a single link for one run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusBroken  Status = "broken"
	StatusSkipped Status = "skipped"
)

// LinkResult is the terminal result of checking a single link.
// Exactly one LinkResult is produced per admitted item per run.
type LinkResult struct {
	URL           string        `json:"url"`                   // The URL that was checked
	Status        Status        `json:"status"`                // ok, broken or skipped
	StatusCode    int           `json:"status_code"`           // HTTP status code (0 if unreachable or skipped)
	Method        string        `json:"method,omitempty"`      // HTTP method of the final probe
	Error         string        `json:"error,omitempty"`       // Human-readable reason for broken/skipped
	ErrorCategory ErrorCategory `json:"error_type,omitempty"`  // Category classification of the failure
	SourcePage    string        `json:"source_page,omitempty"` // The page where this link was found
	Attempts      int           `json:"attempts"`              // Number of probes issued
	Escalated     bool          `json:"escalated"`             // Whether HEAD was escalated to GET
}

// OK builds a successful result.
func OK(url string, statusCode int, method string) LinkResult {
	return LinkResult{URL: url, Status: StatusOK, StatusCode: statusCode, Method: method}
}

// Broken builds a broken result with the given reason.
func Broken(url, reason string, statusCode int, category ErrorCategory) LinkResult {
	return LinkResult{
		URL:           url,
		Status:        StatusBroken,
		StatusCode:    statusCode,
		Error:         reason,
		ErrorCategory: category,
	}
}

// Skipped builds a result for a link that was never probed.
func Skipped(url, reason string) LinkResult {
	return LinkResult{URL: url, Status: StatusSkipped, Error: reason}
}

// IsBroken reports whether the link was classified as broken.
func (r LinkResult) IsBroken() bool { return r.Status == StatusBroken }

// RunStats contains aggregate statistics for a single run.
type RunStats struct {
	Total        int           `json:"total"`   // Links admitted to the run
	Checked      int           `json:"checked"` // Terminal results received
	BrokenCount  int           `json:"broken"`
	SkippedCount int           `json:"skipped"`
	Duration     time.Duration `json:"duration"`
}

// Result is the summary emitted when a run completes.
type Result struct {
	RunID       string       `json:"run_id"`
	BrokenLinks []LinkResult `json:"broken_links"` // Broken links in completion order
	Stats       RunStats     `json:"stats"`
}
