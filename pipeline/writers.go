package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/go-dropbox-links/config"
	"github.com/aluiziolira/go-dropbox-links/models"
)

// CSVWriter writes rows to CSV.
type CSVWriter struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(models.ExportHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		path:   filename,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends rows to the CSV output.
func (cw *CSVWriter) Write(rows []*models.ExportRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, row := range rows {
		if err := cw.writer.Write(row.Record()); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file exists and has content.
func (cw *CSVWriter) Validate() error {
	return validateFile("csv", cw.path)
}

// JSONWriter writes newline-delimited JSON rows.
type JSONWriter struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		path:    filename,
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends rows in JSONL format.
func (jw *JSONWriter) Write(rows []*models.ExportRow) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, row := range rows {
		if err := jw.encoder.Encode(row); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateFile("json", jw.path)
}

// XLSXWriter builds a workbook in memory and saves it on Close.
type XLSXWriter struct {
	path      string
	sheet     string
	file      *excelize.File
	next      int
	delimiter string
	truncated int
	mu        sync.Mutex
}

// XLSXOption configures an XLSXWriter.
type XLSXOption func(*XLSXWriter)

// WithLinkDelimiter sets the separator used to cut oversized link cells
// between links.
func WithLinkDelimiter(delim string) XLSXOption {
	return func(xw *XLSXWriter) {
		if delim != "" {
			xw.delimiter = delim
		}
	}
}

// NewXLSXWriter creates a workbook with the header row.
func NewXLSXWriter(filename string, opts ...XLSXOption) (*XLSXWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	header := make([]interface{}, len(models.ExportHeader))
	for i, h := range models.ExportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}

	xw := &XLSXWriter{
		path:      filename,
		sheet:     sheet,
		file:      f,
		next:      2,
		delimiter: config.DefaultConfig().LinkDelimiter,
	}
	for _, opt := range opts {
		opt(xw)
	}
	return xw, nil
}

// Write appends rows to the sheet.
func (xw *XLSXWriter) Write(rows []*models.ExportRow) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, xw.next)
		if err != nil {
			return fmt.Errorf("xlsx cell name: %w", err)
		}
		links, cut := fitLinks(row.ImageLinks, xw.delimiter, excelize.TotalCellChars)
		if cut {
			xw.truncated++
			slog.Warn("image links exceed the spreadsheet cell limit, trailing links dropped",
				slog.String("sku", row.SKU),
				slog.Int("chars", utf8.RuneCountInString(row.ImageLinks)),
				slog.Int("kept_chars", utf8.RuneCountInString(links)),
			)
		}
		values := []interface{}{row.SKU, links, row.Command}
		if err := xw.file.SetSheetRow(xw.sheet, cell, &values); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", xw.next, err)
		}
		xw.next++
	}
	return nil
}

// Close saves the workbook to disk.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	if err := xw.file.SaveAs(xw.path); err != nil {
		xw.file.Close()
		return fmt.Errorf("save xlsx file: %w", err)
	}
	return xw.file.Close()
}

// Validate ensures the workbook was saved.
func (xw *XLSXWriter) Validate() error {
	return validateFile("xlsx", xw.path)
}

// Truncated returns how many rows exceeded the cell size limit.
func (xw *XLSXWriter) Truncated() int {
	xw.mu.Lock()
	defer xw.mu.Unlock()
	return xw.truncated
}

// fitLinks shortens joined links to at most limit characters, cutting only
// at a delimiter so every kept link is complete.
func fitLinks(links, delim string, limit int) (string, bool) {
	if utf8.RuneCountInString(links) <= limit {
		return links, false
	}
	runes := []rune(links)
	head := string(runes[:limit])
	if strings.HasPrefix(string(runes[limit:]), delim) {
		return head, true
	}
	if i := strings.LastIndex(head, delim); i >= 0 {
		return head[:i], true
	}
	return "", true
}

func validateFile(kind, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
