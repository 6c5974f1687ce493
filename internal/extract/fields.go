package extract

import (
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-ingest/internal/taxid"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
	"02/01/06",
}

// ParseDate reads a document date into a UTC instant. Unparseable input yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 1900 || t.Year() > 2999 {
			return nil
		}
		t = t.UTC()
		return &t
	}
	return nil
}

// Text trims s and returns nil when nothing is left.
func Text(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// TaxID normalizes a raw identifier. Invalid ids are kept in normalized form, flagged invalid.
func TaxID(raw string) (*string, bool) {
	id, ok := taxid.Canonical(raw)
	if id == "" {
		return nil, false
	}
	return &id, ok
}

// Currency upper-cases a 3-letter code; anything else is dropped.
func Currency(s string) *string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return nil
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return nil
		}
	}
	return &s
}
