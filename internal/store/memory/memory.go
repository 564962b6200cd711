// Package memory is an in-process core.Store for tests, the CLI and
// single-node deployments without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/shelver/internal/apperr"
	"github.com/JonMunkholm/shelver/internal/core"
)

// Store keeps everything in maps. Capacity rows each carry their own mutex
// so reservations on different sections never contend.
type Store struct {
	mu      sync.RWMutex
	batches map[string]*core.Batch
	records map[string]*core.Record
	order   []string // record ids in insertion order

	capMu    sync.RWMutex
	capacity map[string]*capacityRow

	catMu   sync.Mutex
	catalog map[string]core.CatalogItem

	now func() time.Time

	// FailCreate, when set, is returned by CreateBatch. Tests use it to
	// exercise the rollback path.
	FailCreate error
}

type capacityRow struct {
	mu  sync.Mutex
	row core.ShelfCapacity
}

var _ core.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		batches:  make(map[string]*core.Batch),
		records:  make(map[string]*core.Record),
		capacity: make(map[string]*capacityRow),
		catalog:  make(map[string]core.CatalogItem),
		now:      time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

// ---------------------------------------------------------------------------
// Batches and records
// ---------------------------------------------------------------------------

func (s *Store) CreateBatch(ctx context.Context, batch *core.Batch, records []core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailCreate != nil {
		return s.FailCreate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return fmt.Errorf("duplicate key: batch %s", batch.ID)
	}
	for i := range records {
		if _, exists := s.records[records[i].ID]; exists {
			return fmt.Errorf("duplicate key: record %s", records[i].ID)
		}
	}

	s.batches[batch.ID] = cloneBatch(batch)
	for i := range records {
		rec := records[i]
		s.records[rec.ID] = &rec
		s.order = append(s.order, rec.ID)
	}
	return nil
}

func (s *Store) CreateFailedBatch(_ context.Context, batch *core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*core.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "get batch", "batch not found: "+id)
	}
	return cloneBatch(b), nil
}

// UpdateBatch writes counts, status and completion time. The error log only
// changes through AppendBatchError.
func (s *Store) UpdateBatch(_ context.Context, batch *core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batch.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "update batch", "batch not found: "+batch.ID)
	}
	b.ProcessedRecords = batch.ProcessedRecords
	b.SuccessfulRecords = batch.SuccessfulRecords
	b.FailedRecords = batch.FailedRecords
	b.Status = batch.Status
	b.CompletedAt = batch.CompletedAt
	return nil
}

func (s *Store) AppendBatchError(_ context.Context, batchID string, entry core.BatchError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "append batch error", "batch not found: "+batchID)
	}
	b.ErrorLog = append(b.ErrorLog, entry)
	return nil
}

func (s *Store) ListRecords(_ context.Context, filter core.RecordFilter) ([]core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Record
	for _, id := range s.order {
		rec := s.records[id]
		if filter.BatchID != "" && rec.BatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, *rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpdateRecord(ctx context.Context, rec *core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return apperr.New(apperr.KindNotFound, "update record", "record not found: "+rec.ID)
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *Store) CountRecordsByStatus(_ context.Context, batchID string) (map[core.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[core.Status]int)
	for _, rec := range s.records {
		if rec.BatchID == batchID {
			counts[rec.Status]++
		}
	}
	return counts, nil
}

func (s *Store) FailOpenRecords(_ context.Context, batchID, reason string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.BatchID != batchID || rec.Status.Terminal() {
			continue
		}
		rec.Status = core.StatusFailed
		rec.ErrorMessage = reason
		t := now
		rec.ProcessedAt = &t
		n++
	}
	return n, nil
}

// Record returns a stored record, for tests.
func (s *Store) Record(id string) (core.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return core.Record{}, false
	}
	return *rec, true
}

// Batches returns every stored batch, for tests.
func (s *Store) Batches() []core.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, *cloneBatch(b))
	}
	return out
}

func cloneBatch(b *core.Batch) *core.Batch {
	cp := *b
	cp.ErrorLog = append([]core.BatchError(nil), b.ErrorLog...)
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ---------------------------------------------------------------------------
// Capacity ledger
// ---------------------------------------------------------------------------

func capKey(shelf, section string) string { return shelf + "\x00" + section }

// row returns the entry for shelf/section, creating it with maxCapacity when
// create is set.
func (s *Store) row(shelf, section string, maxCapacity int, create bool) *capacityRow {
	key := capKey(shelf, section)
	s.capMu.RLock()
	r, ok := s.capacity[key]
	s.capMu.RUnlock()
	if ok || !create {
		return r
	}

	s.capMu.Lock()
	defer s.capMu.Unlock()
	if r, ok := s.capacity[key]; ok {
		return r
	}
	r = &capacityRow{row: core.ShelfCapacity{
		Shelf:       shelf,
		Section:     section,
		MaxCapacity: maxCapacity,
		UpdatedAt:   s.now(),
	}}
	s.capacity[key] = r
	return r
}

func (s *Store) snapshot() []*capacityRow {
	s.capMu.RLock()
	defer s.capMu.RUnlock()
	rows := make([]*capacityRow, 0, len(s.capacity))
	for _, r := range s.capacity {
		rows = append(rows, r)
	}
	return rows
}

func (r *capacityRow) get() core.ShelfCapacity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.row
}

func (s *Store) QueryShelfCapacity(_ context.Context, shelf, section string) (core.ShelfCapacity, bool, error) {
	r := s.row(shelf, section, 0, false)
	if r == nil {
		return core.ShelfCapacity{}, false, nil
	}
	return r.get(), true, nil
}

func (s *Store) ListShelfCapacity(_ context.Context, shelf string) ([]core.ShelfCapacity, error) {
	var out []core.ShelfCapacity
	for _, r := range s.snapshot() {
		row := r.get()
		if shelf == "" || row.Shelf == shelf {
			out = append(out, row)
		}
	}
	sortRows(out)
	return out, nil
}

func (s *Store) FindGenreShelves(_ context.Context, genre string, quantity int) ([]core.ShelfCapacity, error) {
	var out []core.ShelfCapacity
	for _, r := range s.snapshot() {
		row := r.get()
		if row.GenrePreference != "" && strings.EqualFold(row.GenrePreference, genre) && row.Fits(quantity) {
			out = append(out, row)
		}
	}
	sortRows(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CurrentCount < out[j].CurrentCount })
	return out, nil
}

func (s *Store) CreateShelfCapacity(_ context.Context, in core.ShelfCapacity) (core.ShelfCapacity, error) {
	r := s.row(in.Shelf, in.Section, in.MaxCapacity, true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.row.GenrePreference == "" && in.GenrePreference != "" && r.row.CurrentCount == 0 {
		r.row.GenrePreference = in.GenrePreference
	}
	return r.row, nil
}

func (s *Store) UpsertShelfCapacity(_ context.Context, shelf, section string, maxCapacity, delta int) (core.ShelfCapacity, error) {
	r := s.row(shelf, section, maxCapacity, true)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.row.CurrentCount = max(r.row.CurrentCount+delta, 0)
	r.row.UpdatedAt = s.now()
	return r.row, nil
}

func (s *Store) ReserveShelfCapacity(_ context.Context, shelf, section string, maxCapacity, delta int) (core.ShelfCapacity, bool, error) {
	r := s.row(shelf, section, maxCapacity, true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.row.CurrentCount+delta > r.row.MaxCapacity {
		return r.row, false, nil
	}
	r.row.CurrentCount += delta
	r.row.UpdatedAt = s.now()
	return r.row, true, nil
}

func (s *Store) NextSectionFor(_ context.Context, shelf string) (string, int, error) {
	highest, count := 0, 0
	for _, r := range s.snapshot() {
		row := r.get()
		if row.Shelf != shelf {
			continue
		}
		count++
		if n, err := strconv.Atoi(row.Section); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%02d", highest+1), count, nil
}

func sortRows(rows []core.ShelfCapacity) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Shelf != rows[j].Shelf {
			return rows[i].Shelf < rows[j].Shelf
		}
		a, aerr := strconv.Atoi(rows[i].Section)
		b, berr := strconv.Atoi(rows[j].Section)
		if aerr == nil && berr == nil {
			return a < b
		}
		return rows[i].Section < rows[j].Section
	})
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func (s *Store) UpsertCatalogItem(_ context.Context, item core.CatalogItem) (core.CatalogItem, error) {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	if existing, ok := s.catalog[item.Key]; ok {
		item.Quantity += existing.Quantity
	}
	s.catalog[item.Key] = item
	return item, nil
}

func (s *Store) GetCatalogItem(_ context.Context, key string) (core.CatalogItem, bool, error) {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	item, ok := s.catalog[key]
	return item, ok, nil
}
