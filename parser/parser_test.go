package parser

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/aluiziolira/go-dropbox-links/config"
	"github.com/aluiziolira/go-dropbox-links/models"
)

func TestParsePairs(t *testing.T) {
	input := strings.Join([]string{
		"SKU1\thttps://www.dropbox.com/sh/abc/def",
		"",
		"SKU2\thttps://www.dropbox.com/scl/fo/xyz/folder?rlkey=k\r",
		"SKU3 https://www.dropbox.com/sh/missing-tab",
		"SKU4\ta\tb",
		" \thttps://www.dropbox.com/sh/empty-sku",
	}, "\n")

	pairs, skipped, err := ParsePairs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []models.InputPair{
		{Line: 1, SKU: "SKU1", Link: "https://www.dropbox.com/sh/abc/def"},
		{Line: 3, SKU: "SKU2", Link: "https://www.dropbox.com/scl/fo/xyz/folder?rlkey=k"},
	}
	if !reflect.DeepEqual(pairs, want) {
		t.Fatalf("pairs=%+v, want %+v", pairs, want)
	}
	if len(skipped) != 3 {
		t.Fatalf("skipped=%d, want 3", len(skipped))
	}
	if skipped[0].Line != 4 || skipped[1].Line != 5 || skipped[2].Line != 6 {
		t.Fatalf("unexpected skipped lines: %+v", skipped)
	}
}

func TestPairColumns(t *testing.T) {
	pairs, err := PairColumns([]string{"A", " ", "B"}, []string{"l1", "l2", ""})
	if err != nil {
		t.Fatalf("pair columns: %v", err)
	}
	if len(pairs) != 2 || pairs[1].SKU != "B" || pairs[1].Link != "l2" {
		t.Fatalf("unexpected pairs: %+v", pairs)
	}

	if _, err := PairColumns([]string{"A", "B"}, []string{"l1"}); err == nil || !strings.Contains(err.Error(), "must match") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestLinkValidator(t *testing.T) {
	v, err := NewLinkValidator(config.DefaultSharedLinkPattern)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	tests := []struct {
		link string
		want bool
	}{
		{"https://www.dropbox.com/sh/abc123/AAAxyz?dl=0", true},
		{"https://dropbox.com/sh/abc123/AAAxyz", true},
		{"https://www.dropbox.com/scl/fo/abc/def?rlkey=x&dl=0", true},
		{"https://www.dropbox.com/s/abc/file.jpg", false},
		{"https://www.dropbox.com/scl/fi/abc/file.jpg", false},
		{"http://www.dropbox.com/sh/abc", false},
		{"https://example.com/sh/abc", false},
		{"not a link", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := v.Valid(tt.link); got != tt.want {
			t.Errorf("Valid(%q)=%v, want %v", tt.link, got, tt.want)
		}
	}
}

func TestValidateAllReportsEveryInvalidLink(t *testing.T) {
	v, err := NewLinkValidator(config.DefaultSharedLinkPattern)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	pairs := []models.InputPair{
		{Line: 1, SKU: "A", Link: "https://www.dropbox.com/sh/ok"},
		{Line: 2, SKU: "B", Link: "ftp://bad"},
		{Line: 3, SKU: "C", Link: "https://example.com/other"},
	}

	err = v.ValidateAll(pairs)
	var batch *models.BatchValidationError
	if !errors.As(err, &batch) {
		t.Fatalf("expected BatchValidationError, got %v", err)
	}
	if len(batch.Errors) != 2 || batch.Errors[0].Line != 2 || batch.Errors[1].Line != 3 {
		t.Fatalf("unexpected invalid entries: %+v", batch.Errors)
	}
	if v.ValidateAll(pairs[:1]) != nil {
		t.Fatalf("valid batch should pass")
	}
}

func TestSortNatural(t *testing.T) {
	names := []string{"img10.jpg", "img2.jpg", "img1.jpg"}
	SortNatural(names)
	want := []string{"img1.jpg", "img2.jpg", "img10.jpg"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("sorted=%v, want %v", names, want)
	}
}

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"img2.jpg", "img10.jpg", true},
		{"img10.jpg", "img2.jpg", false},
		{"IMG1.jpg", "img2.jpg", true},
		{"a.jpg", "B.jpg", true},
		{"1.jpg", "a.jpg", true},
		{"shot9", "shot9b", true},
		{"v007", "v10", true},
		{"99999999999999999999999.jpg", "100000000000000000000000.jpg", true},
		{"same.jpg", "same.jpg", false},
	}
	for _, tt := range tests {
		if got := NaturalLess(tt.a, tt.b); got != tt.want {
			t.Errorf("NaturalLess(%q, %q)=%v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestEligibleFiles(t *testing.T) {
	entries := []models.FileEntry{
		{Name: "sub", Path: "/a/sub", IsFolder: true},
		{Name: "photo10.webp", Path: "/a/photo10.webp"},
		{Name: "cover.PSD", Path: "/a/cover.PSD"},
		{Name: "photo2.webp", Path: "/a/photo2.webp"},
		{Name: "render.Png", Path: "/a/render.Png"},
	}

	files := EligibleFiles(entries, []string{".psd", ".png"})
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	want := []string{"photo2.webp", "photo10.webp"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("eligible=%v, want %v", names, want)
	}

	folders := Subfolders(entries)
	if len(folders) != 1 || folders[0].Path != "/a/sub" {
		t.Fatalf("folders=%+v", folders)
	}
}

func TestRewriteHost(t *testing.T) {
	got := RewriteHost("https://www.dropbox.com/s/abc/file.jpg", "www.dropbox.com", "dl.dropboxusercontent.com")
	if got != "https://dl.dropboxusercontent.com/s/abc/file.jpg" {
		t.Fatalf("rewrite=%q", got)
	}
	other := "https://example.com/www.dropbox.com/x"
	if got := RewriteHost(other, "www.dropbox.com", "dl.dropboxusercontent.com"); got != other {
		t.Fatalf("non-matching host rewritten: %q", got)
	}
}

func TestBuildRow(t *testing.T) {
	opts := RowOptions{Delimiter: " ; ", SharingHost: "www.dropbox.com", DirectHost: "dl.dropboxusercontent.com"}

	if row := BuildRow("SKU1", nil, opts); row != nil {
		t.Fatalf("empty links should yield no row, got %+v", row)
	}

	row := BuildRow("SKU1", []string{
		"https://www.dropbox.com/s/abc/a.jpg?dl=0",
		"https://www.dropbox.com/scl/fi/def/b.jpg?rlkey=k&dl=0",
	}, opts)
	if row == nil {
		t.Fatalf("expected row")
	}
	want := "https://dl.dropboxusercontent.com/s/abc/a.jpg?dl=0 ; https://dl.dropboxusercontent.com/scl/fi/def/b.jpg?rlkey=k&dl=0"
	if row.ImageLinks != want {
		t.Fatalf("links=%q, want %q", row.ImageLinks, want)
	}
	if row.Command != models.ImageCommandReplace || row.SKU != "SKU1" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if err := ValidateRow(row); err != nil {
		t.Fatalf("validate row: %v", err)
	}
}

func TestValidateRow(t *testing.T) {
	tests := []struct {
		name string
		row  *models.ExportRow
	}{
		{"nil", nil},
		{"missing sku", &models.ExportRow{ImageLinks: "x", Command: models.ImageCommandReplace}},
		{"missing links", &models.ExportRow{SKU: "A", Command: models.ImageCommandReplace}},
		{"wrong command", &models.ExportRow{SKU: "A", ImageLinks: "x", Command: "MERGE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRow(tt.row); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
