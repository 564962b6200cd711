package core

// validation.go checks and sanitizes manifest rows before they are queued.
//
// Validation is pure: ValidateRecord never touches storage and never fails
// the whole batch. Each problem is reported as a "Row N: " prefixed message
// and the caller decides whether the row is rejected. Sanitizing trims every
// field, canonicalizes the condition and truncates the fields that the
// catalog stores in bounded columns.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

// Field limits for stored record columns.
const (
	MaxTitleLength     = 255
	MaxAuthorLength    = 255
	MaxPublisherLength = 255
	MaxGenreLength     = 100
	MinQuantity        = 1
	MaxQuantity        = 1000
	DefaultBatchLimit  = 1000
	DefaultCondition   = "Good"
)

// Conditions lists the accepted condition grades in canonical casing.
var Conditions = []string{"New", "Like New", "Very Good", "Good", "Acceptable", "Poor"}

// ValidationError describes one problem with one field of a manifest row.
type ValidationError struct {
	Row     int    // Spreadsheet row number, 0 when unknown
	Field   string // Field/column name
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	msg := e.Message
	if e.Field != "" && e.Value != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Value)
	}
	if e.Row > 0 {
		return fmt.Sprintf("Row %d: %s", e.Row, msg)
	}
	return msg
}

// ValidateRecord checks one raw manifest row and returns the sanitized record
// along with every problem found. An empty error slice means the row is valid.
// Keys of raw are expected lowercased; row is the record's 1-based position in the manifest.
func ValidateRecord(raw map[string]string, row int) (Record, []string) {
	get := func(key string) string { return strings.TrimSpace(raw[key]) }

	var problems []ValidationError
	fail := func(field, value, msg string) {
		problems = append(problems, ValidationError{Row: row, Field: field, Value: value, Message: msg})
	}

	rec := Record{
		Row:         row,
		ISBN:        get("isbn"),
		UPC:         get("upc"),
		ASIN:        get("asin"),
		Title:       get("title"),
		Author:      get("author"),
		Publisher:   truncate(get("publisher"), MaxPublisherLength),
		Description: get("description"),
		Genre:       truncate(get("genre"), MaxGenreLength),
		Format:      get("format"),
		Status:      StatusPending,
	}

	if rec.ISBN == "" && rec.UPC == "" && rec.ASIN == "" && rec.Title == "" {
		fail("", "", "At least one identifier (ISBN, UPC, ASIN, or title) is required")
	}

	if rec.ISBN != "" {
		if !IsValidISBN(rec.ISBN) {
			fail("isbn", rec.ISBN, "Invalid ISBN format")
		} else {
			rec.ISBN = NormalizeISBN(rec.ISBN)
		}
	}

	qty, err := parseQuantity(get("quantity"))
	if err != nil {
		fail("quantity", get("quantity"), fmt.Sprintf("Quantity must be between %d and %d, got", MinQuantity, MaxQuantity))
	}
	rec.Quantity = qty

	rec.Condition = DefaultCondition
	if c := get("condition"); c != "" {
		canonical, ok := CanonicalCondition(c)
		if !ok {
			fail("", "", "Invalid condition. Must be one of: "+strings.Join(Conditions, ", "))
		}
		rec.Condition = canonical
	}

	if utf8.RuneCountInString(rec.Title) > MaxTitleLength {
		fail("", "", fmt.Sprintf("Title too long (max %d characters)", MaxTitleLength))
	}
	if utf8.RuneCountInString(rec.Author) > MaxAuthorLength {
		fail("", "", fmt.Sprintf("Author too long (max %d characters)", MaxAuthorLength))
	}

	if loc := get("shelf_location"); loc != "" {
		rec.PreferredShelf, rec.PreferredSection = ParseLocation(loc)
	}

	if len(problems) == 0 {
		return rec, nil
	}
	msgs := make([]string, len(problems))
	for i, p := range problems {
		msgs[i] = p.Error()
	}
	return rec, msgs
}

// parseQuantity defaults a blank quantity to 1.
func parseQuantity(s string) (int, error) {
	if s == "" {
		return MinQuantity, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// Spreadsheet exports sometimes write integers as "3.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("quantity %q is not an integer", s)
		}
		n = int(f)
	}
	if n < MinQuantity || n > MaxQuantity {
		return 0, fmt.Errorf("quantity %d out of range", n)
	}
	return n, nil
}

// CanonicalCondition matches a condition case-insensitively.
func CanonicalCondition(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), " ")
	for _, c := range Conditions {
		if strings.EqualFold(c, s) {
			return c, true
		}
	}
	return s, false
}

// ValidateBatchSize rejects an empty manifest or one over the limit. Both are
// structural errors that reject the whole upload.
func ValidateBatchSize(n, limit int) error {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	switch {
	case n == 0:
		return apperr.New(apperr.KindStructural, "validate batch", "Batch is empty")
	case n > limit:
		return apperr.New(apperr.KindStructural, "validate batch",
			fmt.Sprintf("Batch too large: %d books (max %d)", n, limit))
	}
	return nil
}

var (
	shelfSectionPattern = regexp.MustCompile(`(?i)^\s*shelf\s+([a-z0-9]+)\s*,?\s*section\s+(\d+)\s*$`)
	dashedPattern       = regexp.MustCompile(`^\s*([A-Za-z0-9]+)\s*-\s*(\d+)\s*$`)
)

// ParseLocation splits a shelf location like "A-12", "Shelf A, Section 12"
// or a bare shelf name. Section is empty when none is given.
func ParseLocation(s string) (shelf, section string) {
	if m := shelfSectionPattern.FindStringSubmatch(s); m != nil {
		return strings.ToUpper(m[1]), PadSection(m[2])
	}
	if m := dashedPattern.FindStringSubmatch(s); m != nil {
		return strings.ToUpper(m[1]), PadSection(m[2])
	}
	s = strings.TrimSpace(s)
	if rest, ok := cutPrefixFold(s, "shelf "); ok {
		s = strings.TrimSpace(rest)
	}
	return strings.ToUpper(s), ""
}

// PadSection zero-pads numeric sections to width 2.
func PadSection(s string) string {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return strings.TrimSpace(s)
	}
	return fmt.Sprintf("%02d", n)
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
