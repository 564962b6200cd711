package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

// DefaultSectionCapacity is used for sections created on first placement.
const DefaultSectionCapacity = 100

// Ledger is the authoritative record of shelf space. Every count change goes
// through the CapacityStore's atomic operations.
type Ledger struct {
	store           CapacityStore
	defaultCapacity int
}

// NewLedger creates a ledger. A non-positive defaultCapacity uses
// DefaultSectionCapacity.
func NewLedger(store CapacityStore, defaultCapacity int) *Ledger {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultSectionCapacity
	}
	return &Ledger{store: store, defaultCapacity: defaultCapacity}
}

// DefaultCapacity is the capacity of lazily created sections.
func (l *Ledger) DefaultCapacity() int { return l.defaultCapacity }

// Get returns the row for shelf/section; ok is false when absent.
func (l *Ledger) Get(ctx context.Context, shelf, section string) (ShelfCapacity, bool, error) {
	row, ok, err := l.store.QueryShelfCapacity(ctx, shelf, section)
	if err != nil {
		return ShelfCapacity{}, false, apperr.E(apperr.KindInternal, "ledger get", err)
	}
	return row, ok, nil
}

// ListShelf lists the sections of shelf ordered by section.
func (l *Ledger) ListShelf(ctx context.Context, shelf string) ([]ShelfCapacity, error) {
	rows, err := l.store.ListShelfCapacity(ctx, shelf)
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, "ledger list", err)
	}
	return rows, nil
}

// Create adds a section unless it exists. Creating twice returns the
// existing row unchanged.
func (l *Ledger) Create(ctx context.Context, shelf, section string, maxCapacity int, genre string) (ShelfCapacity, error) {
	if shelf == "" || section == "" {
		return ShelfCapacity{}, apperr.New(apperr.KindValidation, "ledger create", "shelf and section are required")
	}
	if maxCapacity <= 0 {
		maxCapacity = l.defaultCapacity
	}
	row, err := l.store.CreateShelfCapacity(ctx, ShelfCapacity{
		Shelf:           shelf,
		Section:         section,
		MaxCapacity:     maxCapacity,
		GenrePreference: genre,
	})
	if err != nil {
		return ShelfCapacity{}, apperr.E(apperr.KindInternal, "ledger create", err)
	}
	return row, nil
}

// Increment adds delta without a capacity check. Negative deltas release
// space; the count never drops below zero.
func (l *Ledger) Increment(ctx context.Context, shelf, section string, delta int) (ShelfCapacity, error) {
	row, err := l.store.UpsertShelfCapacity(ctx, shelf, section, l.defaultCapacity, delta)
	if err != nil {
		return ShelfCapacity{}, apperr.E(apperr.KindInternal, "ledger increment", err)
	}
	return row, nil
}

// Reserve adds delta only if it fits. ok is false when the section lacks room,
// which includes losing a race to a concurrent reservation.
func (l *Ledger) Reserve(ctx context.Context, shelf, section string, delta int) (ShelfCapacity, bool, error) {
	if delta <= 0 {
		return ShelfCapacity{}, false, apperr.New(apperr.KindValidation, "ledger reserve",
			fmt.Sprintf("reservation must be positive, got %d", delta))
	}
	row, ok, err := l.store.ReserveShelfCapacity(ctx, shelf, section, l.defaultCapacity, delta)
	if err != nil {
		return ShelfCapacity{}, false, apperr.E(apperr.KindInternal, "ledger reserve", err)
	}
	return row, ok, nil
}

// NextSection returns the next section number for shelf and how many sections
// it already has.
func (l *Ledger) NextSection(ctx context.Context, shelf string) (string, int, error) {
	next, count, err := l.store.NextSectionFor(ctx, shelf)
	if err != nil {
		return "", 0, apperr.E(apperr.KindInternal, "ledger next section", err)
	}
	return next, count, nil
}

// ShelfSummary aggregates the sections of one shelf.
type ShelfSummary struct {
	Shelf       string  `json:"shelf_location"`
	Sections    int     `json:"sections"`
	Capacity    int     `json:"max_capacity"`
	Count       int     `json:"current_count"`
	Utilization float64 `json:"utilization"`
}

// CapacityReport is the ledger snapshot served to operators.
type CapacityReport struct {
	Sections      []ShelfCapacity `json:"sections"`
	Shelves       []ShelfSummary  `json:"shelves"`
	TotalCapacity int             `json:"total_capacity"`
	TotalCount    int             `json:"total_count"`
	Utilization   float64         `json:"utilization"`
}

// Report snapshots every section with per-shelf totals.
func (l *Ledger) Report(ctx context.Context) (CapacityReport, error) {
	rows, err := l.ListShelf(ctx, "")
	if err != nil {
		return CapacityReport{}, err
	}
	return BuildCapacityReport(rows), nil
}

// BuildCapacityReport summarizes rows. The result is independent of row order.
func BuildCapacityReport(rows []ShelfCapacity) CapacityReport {
	sorted := make([]ShelfCapacity, len(rows))
	copy(sorted, rows)
	sortSections(sorted)

	report := CapacityReport{Sections: sorted, Shelves: []ShelfSummary{}}
	for _, row := range sorted {
		n := len(report.Shelves)
		if n == 0 || report.Shelves[n-1].Shelf != row.Shelf {
			report.Shelves = append(report.Shelves, ShelfSummary{Shelf: row.Shelf})
			n++
		}
		s := &report.Shelves[n-1]
		s.Sections++
		s.Capacity += row.MaxCapacity
		s.Count += row.CurrentCount
		report.TotalCapacity += row.MaxCapacity
		report.TotalCount += row.CurrentCount
	}
	for i := range report.Shelves {
		report.Shelves[i].Utilization = ratio(report.Shelves[i].Count, report.Shelves[i].Capacity)
	}
	report.Utilization = ratio(report.TotalCount, report.TotalCapacity)
	return report
}

// sortSections orders rows by shelf then section, comparing numeric sections
// by value.
func sortSections(rows []ShelfCapacity) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Shelf != rows[j].Shelf {
			return rows[i].Shelf < rows[j].Shelf
		}
		return sectionLess(rows[i].Section, rows[j].Section)
	})
}

func sectionLess(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	return strings.Trim(s, "0123456789") == ""
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}
