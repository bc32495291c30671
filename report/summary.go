package report

import (
	"fmt"
	"io"
	"time"

	"github.com/aluiziolira/go-dropbox-links/models"
)

const separator = "--------------------------------------------------"

// Summary holds what the end-of-run view prints.
type Summary struct {
	Result      *models.RunResult
	OutputFiles []string
	Uploaded    []string
	Validation  map[string]int
	// Truncated counts spreadsheet cells whose trailing links were dropped.
	Truncated int
}

// ImagesPerSecond returns collected images divided by run duration.
func ImagesPerSecond(r *models.RunResult) float64 {
	if r == nil {
		return 0
	}
	seconds := r.Duration().Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(r.Images) / seconds
}

// WriteSummary prints counts, timing, output files and the per-SKU log.
func WriteSummary(w io.Writer, s Summary) {
	r := s.Result
	if r == nil {
		r = &models.RunResult{}
	}

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Run complete")
	fmt.Fprintf(w, "  Input lines:   %d\n", len(r.Outcomes)+len(r.Skipped))
	fmt.Fprintf(w, "  Skipped lines: %d\n", len(r.Skipped))
	fmt.Fprintf(w, "  Resolved:      %d/%d\n", r.Resolved, len(r.Outcomes))
	fmt.Fprintf(w, "  Rows written:  %d\n", r.Rows)
	fmt.Fprintf(w, "  Images:        %d\n", r.Images)
	fmt.Fprintf(w, "  Links:         %d reused, %d created, %d cached, %d unavailable\n",
		r.Links.Reused, r.Links.Created, r.Links.Cached, r.Links.Failed)
	fmt.Fprintf(w, "  Errors:        %d\n", len(r.Errors))
	if len(s.Validation) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", s.Validation)
	}
	if s.Truncated > 0 {
		fmt.Fprintf(w, "  Truncated:     %d rows exceeded the cell limit, trailing links dropped\n", s.Truncated)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  Images/sec:    %.2f\n", ImagesPerSecond(r))
	for _, f := range s.OutputFiles {
		fmt.Fprintf(w, "  Output file:   %s\n", f)
	}
	for _, u := range s.Uploaded {
		fmt.Fprintf(w, "  Uploaded:      %s\n", u)
	}
	fmt.Fprintln(w, separator)

	if len(r.Outcomes) > 0 {
		fmt.Fprintln(w, "Outcomes:")
		for _, o := range r.Outcomes {
			fmt.Fprintf(w, "  %s\n", o.Summary())
		}
	}
	for _, ve := range r.Skipped {
		fmt.Fprintf(w, "  skipped %s\n", ve.Error())
	}
}

// WriteErrors prints the error view. It writes nothing when entries is
// empty.
func WriteErrors(w io.Writer, entries []models.ErrorEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "Errors (%d):\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, e.Context, e.Message)
	}
}

// WriteValidation prints every rejected entry of a blocked batch.
func WriteValidation(w io.Writer, errs []models.ValidationError) {
	fmt.Fprintf(w, "Invalid input (%d):\n", len(errs))
	for _, ve := range errs {
		fmt.Fprintf(w, "  %s\n", ve.Error())
	}
}
