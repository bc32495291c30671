// Package models defines data structures for the link collector.
package models

import (
	"fmt"
	"sync"
	"time"
)

// ImageCommandReplace is the import command written for every exported row.
const ImageCommandReplace = "REPLACE"

// EntryType is the provider's tag for a path or shared link target.
type EntryType string

const (
	EntryFile   EntryType = "file"
	EntryFolder EntryType = "folder"
	EntryOther  EntryType = "other"
)

// InputPair is one parsed input line.
type InputPair struct {
	Line int    `json:"line"`
	SKU  string `json:"sku"`
	Link string `json:"link"`
}

// SharedTarget is what a shared link points at.
type SharedTarget struct {
	Type EntryType `json:"type"`
	Path string    `json:"path"`
}

// FileEntry is a read-only view of one folder listing entry.
type FileEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	IsFolder bool   `json:"is_folder"`
}

// SharedLink is an existing or newly created public link.
type SharedLink struct {
	Type EntryType `json:"type"`
	URL  string    `json:"url"`
}

// ResolvedFolder is the outcome of resolving one InputPair.
type ResolvedFolder struct {
	Pair InputPair
	Path string
	Err  error
}

// OK reports whether the link resolved to a folder path.
func (r ResolvedFolder) OK() bool {
	return r.Err == nil && r.Path != ""
}

// LinkRecord accumulates the links collected for one folder tree.
type LinkRecord struct {
	Links []string
	Count int
}

// Append adds one link.
func (r *LinkRecord) Append(link string) {
	r.Links = append(r.Links, link)
	r.Count++
}

// Merge appends the links of a subtree.
func (r *LinkRecord) Merge(sub LinkRecord) {
	r.Links = append(r.Links, sub.Links...)
	r.Count += sub.Count
}

// ExportRow is one spreadsheet row.
type ExportRow struct {
	SKU        string `csv:"Variant SKU" json:"variant_sku"`
	ImageLinks string `csv:"Image Src" json:"image_src"`
	Command    string `csv:"Image Command" json:"image_command"`
}

// ExportHeader lists the spreadsheet columns in order.
var ExportHeader = []string{"Variant SKU", "Image Src", "Image Command"}

// Record returns the row as column values.
func (r *ExportRow) Record() []string {
	return []string{r.SKU, r.ImageLinks, r.Command}
}

// ErrorEntry is one surfaced failure.
type ErrorEntry struct {
	Context string `json:"context"`
	Message string `json:"message"`
}

// ErrorLog is an append-only list of failures for a run.
type ErrorLog struct {
	mu      sync.Mutex
	entries []ErrorEntry
}

// Add records a failure.
func (l *ErrorLog) Add(context, message string) {
	l.mu.Lock()
	l.entries = append(l.entries, ErrorEntry{Context: context, Message: message})
	l.mu.Unlock()
}

// AddError records err under context using the error's message.
func (l *ErrorLog) AddError(context string, err error) {
	l.Add(context, err.Error())
}

// Len returns the number of recorded failures.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the recorded failures.
func (l *ErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// OutcomeStatus is the terminal state of one input line.
type OutcomeStatus string

const (
	OutcomeImages     OutcomeStatus = "images"
	OutcomeEmpty      OutcomeStatus = "empty"
	OutcomeUnresolved OutcomeStatus = "unresolved"
)

// Outcome is the terminal result for one input pair.
type Outcome struct {
	Pair   InputPair
	Path   string
	Status OutcomeStatus
	Count  int
	Err    error
}

// Summary renders the outcome as a log line.
func (o Outcome) Summary() string {
	switch o.Status {
	case OutcomeImages:
		return fmt.Sprintf("%s — %d images found", o.Pair.SKU, o.Count)
	case OutcomeUnresolved:
		return fmt.Sprintf("%s — link could not be resolved", o.Pair.SKU)
	default:
		return fmt.Sprintf("%s — no valid images found", o.Pair.SKU)
	}
}

// LinkStats counts how file links were obtained during a run.
type LinkStats struct {
	Reused  int `json:"reused"`
	Created int `json:"created"`
	Cached  int `json:"cached"`
	Failed  int `json:"failed"`
}

// RunResult holds the overall result of one run.
type RunResult struct {
	StartTime time.Time
	EndTime   time.Time
	Outcomes  []Outcome
	Errors    []ErrorEntry
	Skipped   []ValidationError
	Resolved  int
	Rows      int
	Images    int
	Links     LinkStats
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}
