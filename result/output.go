package result

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// WriteJSON writes the run summary as indented JSON to the writer.
func WriteJSON(w io.Writer, res *Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write json output: %w", err)
	}
	return nil
}

// csvHeader is the column order used by WriteCSV.
var csvHeader = []string{"url", "status_code", "method", "error_type", "reason", "source_page", "attempts", "escalated"}

// WriteCSV writes the broken links as CSV to the writer.
// Always includes a header row, even if there are no broken links.
func WriteCSV(w io.Writer, links []LinkResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, link := range links {
		record := []string{
			link.URL,
			statusCodeStr(link.StatusCode),
			link.Method,
			string(link.ErrorCategory),
			link.Error,
			link.SourcePage,
			strconv.Itoa(link.Attempts),
			strconv.FormatBool(link.Escalated),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv record for %s: %w", link.URL, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}
	return nil
}

// statusCodeStr converts an HTTP status code to a string.
// Returns empty string for 0 (no HTTP status).
func statusCodeStr(code int) string {
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}
