package core_test

import (
	"context"
	"sync"
	"testing"

	"github.com/JonMunkholm/shelver/internal/core"
	"github.com/JonMunkholm/shelver/internal/store/memory"
)

func newPlacer(store *memory.Store, opts core.PlacementOptions) *core.Placer {
	return core.NewPlacer(core.NewLedger(store, 100), opts, nil)
}

func TestPlace_Ladder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		seed        func(*core.Ledger)
		opts        core.PlacementOptions
		req         core.PlacementRequest
		wantShelf   string
		wantSection string
		wantReason  core.PlacementReason
	}{
		{
			name:        "manual preference with section",
			req:         core.PlacementRequest{Author: "Frank Herbert", PreferredShelf: "b", PreferredSection: "3", Quantity: 2},
			wantShelf:   "B",
			wantSection: "03",
			wantReason:  core.ReasonManualPreference,
		},
		{
			name:        "manual preference shelf only",
			req:         core.PlacementRequest{Author: "Frank Herbert", PreferredShelf: "C", Quantity: 1},
			wantShelf:   "C",
			wantSection: "01",
			wantReason:  core.ReasonManualPreference,
		},
		{
			name: "full preferred section falls through to genre",
			seed: func(l *core.Ledger) {
				l.Create(context.Background(), "B", "03", 1, "")
				l.Increment(context.Background(), "B", "03", 1)
				l.Create(context.Background(), "F", "02", 50, "Fantasy")
			},
			req:         core.PlacementRequest{Author: "Frank Herbert", Genre: "fantasy", PreferredShelf: "B", PreferredSection: "03", Quantity: 1},
			wantShelf:   "F",
			wantSection: "02",
			wantReason:  core.ReasonGenreMatch,
		},
		{
			name: "genre picks least filled section",
			seed: func(l *core.Ledger) {
				l.Create(context.Background(), "F", "01", 50, "Fantasy")
				l.Increment(context.Background(), "F", "01", 10)
				l.Create(context.Background(), "F", "02", 50, "Fantasy")
				l.Increment(context.Background(), "F", "02", 4)
			},
			req:         core.PlacementRequest{Author: "Robin Hobb", Genre: "Fantasy", Quantity: 1},
			wantShelf:   "F",
			wantSection: "02",
			wantReason:  core.ReasonGenreMatch,
		},
		{
			name:        "author alpha on empty ledger",
			req:         core.PlacementRequest{Author: "Frank Herbert", Quantity: 3},
			wantShelf:   "H",
			wantSection: "01",
			wantReason:  core.ReasonAuthorAlpha,
		},
		{
			name: "author alpha opens next section",
			seed: func(l *core.Ledger) {
				l.Create(context.Background(), "H", "01", 5, "")
				l.Increment(context.Background(), "H", "01", 5)
			},
			req:         core.PlacementRequest{Author: "Frank Herbert", Quantity: 1},
			wantShelf:   "H",
			wantSection: "02",
			wantReason:  core.ReasonAuthorAlpha,
		},
		{
			name: "author shelf at section limit uses nearest",
			opts: core.PlacementOptions{MaxSectionsPerShelf: 1},
			seed: func(l *core.Ledger) {
				l.Create(context.Background(), "H", "01", 5, "")
				l.Increment(context.Background(), "H", "01", 5)
				l.Create(context.Background(), "A", "01", 20, "")
				l.Create(context.Background(), "G", "01", 20, "")
			},
			req:         core.PlacementRequest{Author: "Frank Herbert", Quantity: 1},
			wantShelf:   "G",
			wantSection: "01",
			wantReason:  core.ReasonOverflowNearest,
		},
		{
			name:        "oversized item goes to new overflow section",
			req:         core.PlacementRequest{Author: "Frank Herbert", Quantity: 150},
			wantShelf:   "H-OVERFLOW",
			wantSection: "01",
			wantReason:  core.ReasonOverflowNew,
		},
		{
			name:        "missing author files under Z",
			req:         core.PlacementRequest{Author: "", Quantity: 1},
			wantShelf:   "Z",
			wantSection: "01",
			wantReason:  core.ReasonAuthorAlpha,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			if tt.seed != nil {
				tt.seed(core.NewLedger(store, 100))
			}
			p := newPlacer(store, tt.opts)

			got, err := p.Place(ctx, tt.req)
			if err != nil {
				t.Fatalf("Place() error = %v", err)
			}
			if got.Shelf != tt.wantShelf || got.Section != tt.wantSection {
				t.Errorf("Place() = %s/%s, want %s/%s", got.Shelf, got.Section, tt.wantShelf, tt.wantSection)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Place() reason = %s, want %s", got.Reason, tt.wantReason)
			}

			row, ok, _ := store.QueryShelfCapacity(ctx, got.Shelf, got.Section)
			if !ok {
				t.Fatalf("no ledger row for %s/%s", got.Shelf, got.Section)
			}
			if row.CurrentCount > row.MaxCapacity {
				t.Errorf("row %s/%s overbooked: %d > %d", row.Shelf, row.Section, row.CurrentCount, row.MaxCapacity)
			}
		})
	}
}

func TestPlace_OverflowCapacityFitsItem(t *testing.T) {
	store := memory.New()
	p := newPlacer(store, core.PlacementOptions{OverflowCapacity: 200})

	got, err := p.Place(context.Background(), core.PlacementRequest{Author: "Le Guin", Quantity: 500})
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	row, _, _ := store.QueryShelfCapacity(context.Background(), got.Shelf, got.Section)
	if row.MaxCapacity != 500 || row.CurrentCount != 500 {
		t.Errorf("overflow row = %d/%d, want 500/500", row.CurrentCount, row.MaxCapacity)
	}
}

func TestPlace_RejectsNonPositiveQuantity(t *testing.T) {
	p := newPlacer(memory.New(), core.PlacementOptions{})
	if _, err := p.Place(context.Background(), core.PlacementRequest{Quantity: 0}); err == nil {
		t.Error("Place(qty 0) error = nil, want error")
	}
}

func TestPlace_ConcurrentNeverOverbooks(t *testing.T) {
	store := memory.New()
	ledger := core.NewLedger(store, 10)
	ledger.Create(context.Background(), "A", "01", 10, "")
	p := core.NewPlacer(ledger, core.PlacementOptions{MaxSectionsPerShelf: 2}, nil)

	const workers = 60
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Place(context.Background(), core.PlacementRequest{
				Author:         "Asimov",
				PreferredShelf: "A",
				Quantity:       1,
			}); err != nil {
				t.Errorf("Place() error = %v", err)
			}
		}()
	}
	wg.Wait()

	rows, _ := store.ListShelfCapacity(context.Background(), "")
	total := 0
	for _, row := range rows {
		if row.CurrentCount > row.MaxCapacity {
			t.Errorf("row %s/%s overbooked: %d > %d", row.Shelf, row.Section, row.CurrentCount, row.MaxCapacity)
		}
		total += row.CurrentCount
	}
	if total != workers {
		t.Errorf("total placed = %d, want %d", total, workers)
	}
}

func TestAuthorLetter(t *testing.T) {
	tests := []struct {
		author string
		want   string
	}{
		{"Frank Herbert", "H"},
		{"ursula le guin", "G"},
		{"Tolkien", "T"},
		{"", "Z"},
		{"   ", "Z"},
		{"Stanisław Łem", "Z"},
		{"Prince 2", "Z"},
	}
	for _, tt := range tests {
		if got := core.AuthorLetter(tt.author); got != tt.want {
			t.Errorf("AuthorLetter(%q) = %q, want %q", tt.author, got, tt.want)
		}
	}
}

func TestRankNearest(t *testing.T) {
	rows := []core.ShelfCapacity{
		{Shelf: "A", Section: "01", MaxCapacity: 10},
		{Shelf: "K", Section: "01", MaxCapacity: 10, CurrentCount: 5},
		{Shelf: "K", Section: "02", MaxCapacity: 10},
		{Shelf: "M", Section: "01", MaxCapacity: 10},
	}
	core.RankNearest(rows, "L")

	want := []string{"K/02", "M/01", "K/01", "A/01"}
	for i, w := range want {
		if got := rows[i].Shelf + "/" + rows[i].Section; got != w {
			t.Errorf("rows[%d] = %s, want %s", i, got, w)
		}
	}
}
