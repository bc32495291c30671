package parser

import (
	"sort"
	"strings"

	"github.com/aluiziolira/go-dropbox-links/models"
)

// keyPart is one run of a natural sort key. Even positions hold text runs
// and odd positions hold digit runs, so parts at the same index always
// share a kind.
type keyPart struct {
	text    string
	digits  string
	numeric bool
}

// naturalKey splits name into alternating text and digit runs, starting
// with a (possibly empty) text run. Text is lower-cased; digit runs keep
// their value without leading zeros.
func naturalKey(name string) []keyPart {
	parts := make([]keyPart, 0, 4)
	var current strings.Builder
	inDigits := false

	flush := func() {
		if inDigits {
			digits := strings.TrimLeft(current.String(), "0")
			parts = append(parts, keyPart{digits: digits, numeric: true})
		} else {
			parts = append(parts, keyPart{text: strings.ToLower(current.String())})
		}
		current.Reset()
	}

	for _, r := range name {
		isDigit := r >= '0' && r <= '9'
		if isDigit != inDigits {
			flush()
			inDigits = isDigit
		}
		current.WriteRune(r)
	}
	flush()
	return parts
}

// NaturalLess orders a before b the way a person reads numbered names:
// img2 before img10.
func NaturalLess(a, b string) bool {
	return compareKeys(naturalKey(a), naturalKey(b)) < 0
}

func compareKeys(a, b []keyPart) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := comparePart(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func comparePart(a, b keyPart) int {
	if a.numeric && b.numeric {
		// Without leading zeros a longer run is a larger number.
		if len(a.digits) != len(b.digits) {
			if len(a.digits) < len(b.digits) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.digits, b.digits)
	}
	return strings.Compare(a.text, b.text)
}

// SortNatural sorts names in place.
func SortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return NaturalLess(names[i], names[j])
	})
}

// SortEntries sorts entries in place by name. Equal keys keep listing order.
func SortEntries(entries []models.FileEntry) {
	keys := make(map[string][]keyPart, len(entries))
	for _, e := range entries {
		if _, ok := keys[e.Name]; !ok {
			keys[e.Name] = naturalKey(e.Name)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return compareKeys(keys[entries[i].Name], keys[entries[j].Name]) < 0
	})
}
