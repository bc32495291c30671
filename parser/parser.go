package parser

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-dropbox-links/models"
)

// ParsePairs reads SKU<TAB>link lines. Blank lines are ignored; lines that
// are not exactly two non-empty tab separated fields are returned as
// skipped entries and excluded from the pairs.
func ParsePairs(r io.Reader) ([]models.InputPair, []models.ValidationError, error) {
	var (
		pairs   []models.InputPair
		skipped []models.ValidationError
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}

		fields := strings.Split(raw, "\t")
		if len(fields) != 2 {
			skipped = append(skipped, models.ValidationError{
				Line:   line,
				Input:  raw,
				Reason: fmt.Sprintf("expected 2 tab separated fields, got %d", len(fields)),
			})
			continue
		}

		sku := strings.TrimSpace(fields[0])
		link := strings.TrimSpace(fields[1])
		if sku == "" || link == "" {
			skipped = append(skipped, models.ValidationError{
				Line:   line,
				Input:  raw,
				Reason: "SKU and link must both be non-empty",
			})
			continue
		}
		pairs = append(pairs, models.InputPair{Line: line, SKU: sku, Link: link})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read input: %w", err)
	}
	return pairs, skipped, nil
}

// PairColumns pairs a SKU column with a link column by position. Blank
// entries are dropped from both columns before pairing.
func PairColumns(skus, links []string) ([]models.InputPair, error) {
	skus = nonBlank(skus)
	links = nonBlank(links)
	if len(skus) != len(links) {
		return nil, fmt.Errorf("you have %d SKUs and %d links; these must match", len(skus), len(links))
	}

	pairs := make([]models.InputPair, 0, len(skus))
	for i := range skus {
		pairs = append(pairs, models.InputPair{Line: i + 1, SKU: skus[i], Link: links[i]})
	}
	return pairs, nil
}

// ReadLines returns the trimmed non-blank lines of r.
func ReadLines(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			out = append(out, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return out, nil
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LinkValidator checks raw links against the shared-folder URL shape.
type LinkValidator struct {
	pattern *regexp.Regexp
}

// NewLinkValidator compiles pattern.
func NewLinkValidator(pattern string) (*LinkValidator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile shared link pattern: %w", err)
	}
	return &LinkValidator{pattern: re}, nil
}

// Valid reports whether raw looks like a shared folder link.
func (v *LinkValidator) Valid(raw string) bool {
	return v.pattern.MatchString(strings.TrimSpace(raw))
}

// ValidateAll checks every pair and returns all invalid links together.
func (v *LinkValidator) ValidateAll(pairs []models.InputPair) error {
	var invalid []models.ValidationError
	for _, pair := range pairs {
		if !v.Valid(pair.Link) {
			invalid = append(invalid, models.ValidationError{
				Line:   pair.Line,
				Input:  pair.Link,
				Reason: fmt.Sprintf("not a shared folder link for SKU %s", pair.SKU),
			})
		}
	}
	if len(invalid) > 0 {
		return &models.BatchValidationError{Errors: invalid}
	}
	return nil
}
