package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/go-dropbox-links/models"
)

// MultiWriter fans every batch out to several writers in order.
type MultiWriter struct {
	mu      sync.Mutex
	writers []OutputWriter
	names   []string
	paths   []string
}

// NewDualWriter writes the XLSX export and a CSV copy side by side.
func NewDualWriter(xlsxFilename, csvFilename string, opts ...XLSXOption) (*MultiWriter, error) {
	xlsx, err := NewXLSXWriter(xlsxFilename, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create XLSX writer: %w", err)
	}
	csv, err := NewCSVWriter(csvFilename)
	if err != nil {
		xlsx.file.Close()
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}

	return &MultiWriter{
		writers: []OutputWriter{xlsx, csv},
		names:   []string{"XLSX", "CSV"},
		paths:   []string{xlsxFilename, csvFilename},
	}, nil
}

// Write passes rows to each writer and stops at the first failure.
func (mw *MultiWriter) Write(rows []*models.ExportRow) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for i, w := range mw.writers {
		if err := w.Write(rows); err != nil {
			return fmt.Errorf("%s write failed: %w", mw.names[i], err)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for i, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close failed: %w", mw.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks every output file.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for i, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validation failed: %w", mw.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Truncated sums the oversized cells reported by the wrapped writers.
func (mw *MultiWriter) Truncated() int {
	n := 0
	for _, w := range mw.writers {
		if t, ok := w.(interface{ Truncated() int }); ok {
			n += t.Truncated()
		}
	}
	return n
}

// Paths returns the files written, in writer order.
func (mw *MultiWriter) Paths() []string {
	out := make([]string, len(mw.paths))
	copy(out, mw.paths)
	return out
}

// NewWriter creates the writer for format and returns it with the paths it
// will produce. "dual" writes filename plus a .csv sibling. opts apply to
// the XLSX output.
func NewWriter(format, filename string, opts ...XLSXOption) (OutputWriter, []string, error) {
	switch format {
	case "xlsx":
		w, err := NewXLSXWriter(filename, opts...)
		if err != nil {
			return nil, nil, err
		}
		return w, []string{filename}, nil
	case "csv":
		w, err := NewCSVWriter(filename)
		if err != nil {
			return nil, nil, err
		}
		return w, []string{filename}, nil
	case "json":
		w, err := NewJSONWriter(filename)
		if err != nil {
			return nil, nil, err
		}
		return w, []string{filename}, nil
	case "dual":
		w, err := NewDualWriter(filename, strings.TrimSuffix(filename, ".xlsx")+".csv", opts...)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Paths(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported format: %s", format)
	}
}
