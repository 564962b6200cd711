package core

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		wantErr string // substring of the first error, empty for valid rows
	}{
		{"isbn only", map[string]string{"isbn": "978-0-306-40615-7"}, ""},
		{"isbn10 with X", map[string]string{"isbn": "080442957X"}, ""},
		{"title only", map[string]string{"title": "Dune"}, ""},
		{"upc only", map[string]string{"upc": "012345678905"}, ""},
		{"no identifier", map[string]string{"author": "Anon"}, "At least one identifier"},
		{"bad isbn checksum", map[string]string{"isbn": "9780306406158"}, "Row 2: Invalid ISBN format: 9780306406158"},
		{"isbn wrong length", map[string]string{"isbn": "12345"}, "Invalid ISBN format"},
		{"quantity zero", map[string]string{"title": "T", "quantity": "0"}, "Quantity must be between 1 and 1000, got: 0"},
		{"quantity too big", map[string]string{"title": "T", "quantity": "1001"}, "Quantity must be between"},
		{"quantity text", map[string]string{"title": "T", "quantity": "lots"}, "Quantity must be between"},
		{"quantity max", map[string]string{"title": "T", "quantity": "1000"}, ""},
		{"bad condition", map[string]string{"title": "T", "condition": "Mint"}, "Invalid condition"},
		{"condition lowercase", map[string]string{"title": "T", "condition": "like new"}, ""},
		{"title too long", map[string]string{"title": strings.Repeat("a", 256)}, "Title too long"},
		{"author too long", map[string]string{"title": "T", "author": strings.Repeat("a", 256)}, "Author too long"},
		{"long publisher truncated", map[string]string{"title": "T", "publisher": strings.Repeat("p", 300)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := ValidateRecord(tt.raw, 2)
			if tt.wantErr == "" {
				if len(errs) != 0 {
					t.Errorf("ValidateRecord() errors = %v, want none", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatalf("ValidateRecord() errors = none, want %q", tt.wantErr)
			}
			if !strings.Contains(errs[0], tt.wantErr) {
				t.Errorf("ValidateRecord() error = %q, want substring %q", errs[0], tt.wantErr)
			}
			if !strings.HasPrefix(errs[0], "Row 2: ") {
				t.Errorf("error %q missing row prefix", errs[0])
			}
		})
	}
}

func TestValidateRecord_Sanitizes(t *testing.T) {
	rec, errs := ValidateRecord(map[string]string{
		"isbn":           " 978-0-306-40615-7 ",
		"title":          "  Dune ",
		"publisher":      strings.Repeat("p", 300),
		"genre":          strings.Repeat("g", 120),
		"condition":      "VERY good",
		"shelf_location": "b-3",
	}, 5)
	if len(errs) != 0 {
		t.Fatalf("ValidateRecord() errors = %v", errs)
	}

	if rec.ISBN != "9780306406157" {
		t.Errorf("ISBN = %q, want normalized", rec.ISBN)
	}
	if rec.Title != "Dune" {
		t.Errorf("Title = %q, want trimmed", rec.Title)
	}
	if len(rec.Publisher) != MaxPublisherLength {
		t.Errorf("len(Publisher) = %d, want %d", len(rec.Publisher), MaxPublisherLength)
	}
	if len(rec.Genre) != MaxGenreLength {
		t.Errorf("len(Genre) = %d, want %d", len(rec.Genre), MaxGenreLength)
	}
	if rec.Condition != "Very Good" {
		t.Errorf("Condition = %q, want %q", rec.Condition, "Very Good")
	}
	if rec.Quantity != 1 {
		t.Errorf("Quantity = %d, want default 1", rec.Quantity)
	}
	if rec.PreferredShelf != "B" || rec.PreferredSection != "03" {
		t.Errorf("preferred = %s-%s, want B-03", rec.PreferredShelf, rec.PreferredSection)
	}
	if rec.Row != 5 || rec.Status != StatusPending {
		t.Errorf("Row = %d, Status = %q", rec.Row, rec.Status)
	}
}

func TestValidateRecord_DefaultCondition(t *testing.T) {
	rec, _ := ValidateRecord(map[string]string{"title": "T"}, 2)
	if rec.Condition != DefaultCondition {
		t.Errorf("Condition = %q, want %q", rec.Condition, DefaultCondition)
	}
}

func TestValidateRecord_CollectsAllErrors(t *testing.T) {
	_, errs := ValidateRecord(map[string]string{"isbn": "123", "quantity": "-1", "condition": "bad"}, 9)
	if len(errs) != 3 {
		t.Errorf("len(errors) = %d, want 3: %v", len(errs), errs)
	}
}

func TestIsValidISBN(t *testing.T) {
	tests := []struct {
		isbn string
		want bool
	}{
		{"0306406152", true},
		{"0-306-40615-2", true},
		{"0306406153", false},
		{"080442957X", true},
		{"080442957x", true},
		{"X804429570", false},
		{"9780306406157", true},
		{"978 0 306 40615 7", true},
		{"9780306406150", false},
		{"97803064061A7", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidISBN(tt.isbn); got != tt.want {
			t.Errorf("IsValidISBN(%q) = %v, want %v", tt.isbn, got, tt.want)
		}
	}
}

func TestValidateBatchSize(t *testing.T) {
	tests := []struct {
		n, limit int
		wantErr  bool
	}{
		{0, 1000, true},
		{1, 1000, false},
		{1000, 1000, false},
		{1001, 1000, true},
		{1001, 0, true},
		{5, 4, true},
	}

	for _, tt := range tests {
		err := ValidateBatchSize(tt.n, tt.limit)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateBatchSize(%d, %d) error = %v, wantErr %v", tt.n, tt.limit, err, tt.wantErr)
		}
		if err != nil && !apperr.Is(err, apperr.KindStructural) {
			t.Errorf("ValidateBatchSize(%d, %d) kind = %v, want structural", tt.n, tt.limit, apperr.KindOf(err))
		}
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in             string
		shelf, section string
	}{
		{"A-12", "A", "12"},
		{"a-3", "A", "03"},
		{"Shelf B, Section 4", "B", "04"},
		{"shelf c section 10", "C", "10"},
		{"D", "D", ""},
		{"Shelf E", "E", ""},
		{"  f ", "F", ""},
	}

	for _, tt := range tests {
		shelf, section := ParseLocation(tt.in)
		if shelf != tt.shelf || section != tt.section {
			t.Errorf("ParseLocation(%q) = (%q, %q), want (%q, %q)", tt.in, shelf, section, tt.shelf, tt.section)
		}
	}
}
