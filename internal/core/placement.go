package core

// placement.go decides where an item goes and reserves the space.
//
// The ladder is tried top to bottom and the first rung with a candidate that
// accepts the reservation wins:
//
//  1. manual_preference  the shelf (and section) named in the manifest
//  2. genre_match        least-filled section preferring the item's genre
//  3. author_alpha       the shelf named after the author's last-name initial
//  4. overflow_nearest   any section with room, nearest letter first
//  5. overflow_new       a fresh section on "<letter>-OVERFLOW"
//
// Candidates are picked from a ledger read and then reserved with a
// conditional increment. A failed reservation means another worker took the
// space in between, so the ladder is re-run from the top, a bounded number of
// rounds, before falling back to overflow_new which always succeeds.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/JonMunkholm/shelver/internal/apperr"
	"github.com/JonMunkholm/shelver/internal/logging"
	"github.com/JonMunkholm/shelver/internal/metrics"
)

// PlacementReason records which rung of the ladder chose the location.
type PlacementReason string

const (
	ReasonManualPreference PlacementReason = "manual_preference"
	ReasonGenreMatch       PlacementReason = "genre_match"
	ReasonAuthorAlpha      PlacementReason = "author_alpha"
	ReasonOverflowNearest  PlacementReason = "overflow_nearest"
	ReasonOverflowNew      PlacementReason = "overflow_new"
)

// Placement defaults.
const (
	DefaultMaxSectionsPerShelf = 10
	DefaultOverflowCapacity    = 200
	DefaultReserveAttempts     = 3
	OverflowSuffix             = "-OVERFLOW"
)

// PlacementRequest describes the item being placed.
type PlacementRequest struct {
	Author           string
	Genre            string
	PreferredShelf   string
	PreferredSection string
	Quantity         int
}

// PlacementResult is where the item went and why.
type PlacementResult struct {
	Shelf       string          `json:"shelf_location"`
	Section     string          `json:"section"`
	Reason      PlacementReason `json:"reason"`
	Utilization float64         `json:"utilization_at_assignment"`
}

// PlacementOptions tunes the ladder. Zero values use the defaults.
type PlacementOptions struct {
	MaxSectionsPerShelf int
	OverflowCapacity    int
	ReserveAttempts     int
}

// Placer runs the placement ladder against a Ledger.
type Placer struct {
	ledger   *Ledger
	opts     PlacementOptions
	recorder metrics.Recorder
}

// NewPlacer creates a placer. A nil recorder disables metrics.
func NewPlacer(ledger *Ledger, opts PlacementOptions, recorder metrics.Recorder) *Placer {
	if opts.MaxSectionsPerShelf <= 0 {
		opts.MaxSectionsPerShelf = DefaultMaxSectionsPerShelf
	}
	if opts.OverflowCapacity <= 0 {
		opts.OverflowCapacity = DefaultOverflowCapacity
	}
	if opts.ReserveAttempts <= 0 {
		opts.ReserveAttempts = DefaultReserveAttempts
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Placer{ledger: ledger, opts: opts, recorder: recorder}
}

// candidate is a location a rung wants to reserve.
type candidate struct {
	shelf, section string
	reason         PlacementReason
}

// Place chooses a location for req and reserves req.Quantity units there.
func (p *Placer) Place(ctx context.Context, req PlacementRequest) (PlacementResult, error) {
	if req.Quantity <= 0 {
		return PlacementResult{}, apperr.New(apperr.KindValidation, "place",
			fmt.Sprintf("quantity must be positive, got %d", req.Quantity))
	}
	letter := AuthorLetter(req.Author)
	log := logging.FromContext(ctx)

	for round := 1; round <= p.opts.ReserveAttempts; round++ {
		res, placed, raced, err := p.climb(ctx, req, letter)
		if err != nil {
			return PlacementResult{}, err
		}
		if placed {
			p.done(log, req, res)
			return res, nil
		}
		if !raced {
			break
		}
		log.Debug("placement reservation lost, retrying ladder", "round", round)
	}

	res, err := p.overflowNew(ctx, req, letter)
	if err != nil {
		return PlacementResult{}, err
	}
	p.done(log, req, res)
	return res, nil
}

func (p *Placer) done(log *slog.Logger, req PlacementRequest, res PlacementResult) {
	p.recorder.Placement(string(res.Reason))
	log.Info("item placed",
		"shelf", res.Shelf,
		"section", res.Section,
		"reason", res.Reason,
		"quantity", req.Quantity,
		"utilization", fmt.Sprintf("%.2f", res.Utilization),
	)
}

// climb walks rungs 1-4 once. raced reports that a chosen candidate refused
// the reservation.
func (p *Placer) climb(ctx context.Context, req PlacementRequest, letter string) (PlacementResult, bool, bool, error) {
	rungs := []func(context.Context, PlacementRequest, string) (candidate, bool, error){
		p.manual,
		p.genre,
		p.authorAlpha,
		p.nearest,
	}
	for _, rung := range rungs {
		c, ok, err := rung(ctx, req, letter)
		if err != nil {
			return PlacementResult{}, false, false, err
		}
		if !ok {
			continue
		}
		row, reserved, err := p.ledger.Reserve(ctx, c.shelf, c.section, req.Quantity)
		if err != nil {
			return PlacementResult{}, false, false, err
		}
		if !reserved {
			return PlacementResult{}, false, true, nil
		}
		return PlacementResult{
			Shelf:       c.shelf,
			Section:     c.section,
			Reason:      c.reason,
			Utilization: row.Utilization(),
		}, true, false, nil
	}
	return PlacementResult{}, false, false, nil
}

func (p *Placer) manual(ctx context.Context, req PlacementRequest, _ string) (candidate, bool, error) {
	shelf := strings.ToUpper(strings.TrimSpace(req.PreferredShelf))
	if shelf == "" {
		return candidate{}, false, nil
	}
	if req.PreferredSection != "" {
		section := PadSection(req.PreferredSection)
		row, ok, err := p.ledger.Get(ctx, shelf, section)
		if err != nil {
			return candidate{}, false, err
		}
		if ok && !row.Fits(req.Quantity) {
			return candidate{}, false, nil
		}
		if !ok && req.Quantity > p.ledger.DefaultCapacity() {
			return candidate{}, false, nil
		}
		return candidate{shelf, section, ReasonManualPreference}, true, nil
	}
	section, ok, err := p.sectionOn(ctx, shelf, req.Quantity)
	if err != nil || !ok {
		return candidate{}, false, err
	}
	return candidate{shelf, section, ReasonManualPreference}, true, nil
}

func (p *Placer) genre(ctx context.Context, req PlacementRequest, _ string) (candidate, bool, error) {
	genre := strings.TrimSpace(req.Genre)
	if genre == "" {
		return candidate{}, false, nil
	}
	rows, err := p.ledger.store.FindGenreShelves(ctx, genre, req.Quantity)
	if err != nil {
		return candidate{}, false, apperr.E(apperr.KindInternal, "find genre shelves", err)
	}
	for _, row := range rows {
		if row.Fits(req.Quantity) {
			return candidate{row.Shelf, row.Section, ReasonGenreMatch}, true, nil
		}
	}
	return candidate{}, false, nil
}

func (p *Placer) authorAlpha(ctx context.Context, req PlacementRequest, letter string) (candidate, bool, error) {
	section, ok, err := p.sectionOn(ctx, letter, req.Quantity)
	if err != nil || !ok {
		return candidate{}, false, err
	}
	return candidate{letter, section, ReasonAuthorAlpha}, true, nil
}

// sectionOn finds the first section of shelf with room, else the next new
// section while the shelf is under its section limit.
func (p *Placer) sectionOn(ctx context.Context, shelf string, quantity int) (string, bool, error) {
	rows, err := p.ledger.ListShelf(ctx, shelf)
	if err != nil {
		return "", false, err
	}
	sortSections(rows)
	for _, row := range rows {
		if row.Fits(quantity) {
			return row.Section, true, nil
		}
	}
	if quantity > p.ledger.DefaultCapacity() {
		return "", false, nil
	}
	next, count, err := p.ledger.NextSection(ctx, shelf)
	if err != nil {
		return "", false, err
	}
	if count >= p.opts.MaxSectionsPerShelf {
		return "", false, nil
	}
	return next, true, nil
}

func (p *Placer) nearest(ctx context.Context, req PlacementRequest, letter string) (candidate, bool, error) {
	rows, err := p.ledger.ListShelf(ctx, "")
	if err != nil {
		return candidate{}, false, err
	}
	open := rows[:0]
	for _, row := range rows {
		if row.Fits(req.Quantity) {
			open = append(open, row)
		}
	}
	if len(open) == 0 {
		return candidate{}, false, nil
	}
	RankNearest(open, letter)
	return candidate{open[0].Shelf, open[0].Section, ReasonOverflowNearest}, true, nil
}

// RankNearest orders rows by letter distance from target, then by free space
// (most first), then shelf and section.
func RankNearest(rows []ShelfCapacity, target string) {
	t := letterOf(target)
	sort.SliceStable(rows, func(i, j int) bool {
		di, dj := distance(letterOf(rows[i].Shelf), t), distance(letterOf(rows[j].Shelf), t)
		if di != dj {
			return di < dj
		}
		if ai, aj := rows[i].Available(), rows[j].Available(); ai != aj {
			return ai > aj
		}
		if rows[i].Shelf != rows[j].Shelf {
			return rows[i].Shelf < rows[j].Shelf
		}
		return sectionLess(rows[i].Section, rows[j].Section)
	})
}

func (p *Placer) overflowNew(ctx context.Context, req PlacementRequest, letter string) (PlacementResult, error) {
	shelf := letter + OverflowSuffix
	section, _, err := p.ledger.NextSection(ctx, shelf)
	if err != nil {
		return PlacementResult{}, err
	}
	capacity := max(p.opts.OverflowCapacity, req.Quantity)
	if _, err := p.ledger.Create(ctx, shelf, section, capacity, ""); err != nil {
		return PlacementResult{}, err
	}
	row, err := p.ledger.Increment(ctx, shelf, section, req.Quantity)
	if err != nil {
		return PlacementResult{}, err
	}
	return PlacementResult{
		Shelf:       shelf,
		Section:     section,
		Reason:      ReasonOverflowNew,
		Utilization: row.Utilization(),
	}, nil
}

// AuthorLetter is the uppercased initial of the author's last name token,
// or "Z" when there is none in A-Z.
func AuthorLetter(author string) string {
	fields := strings.Fields(author)
	if len(fields) == 0 {
		return "Z"
	}
	r := []rune(fields[len(fields)-1])[0]
	r = unicode.ToUpper(r)
	if r < 'A' || r > 'Z' {
		return "Z"
	}
	return string(r)
}

// letterOf returns the first rune of a shelf name, uppercased.
func letterOf(shelf string) rune {
	for _, r := range shelf {
		return unicode.ToUpper(r)
	}
	return 'Z'
}

func distance(a, b rune) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
