package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/shelver/internal/apperr"
	"github.com/JonMunkholm/shelver/internal/config"
	"github.com/JonMunkholm/shelver/internal/core"
)

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{"batch_uploads", "incoming_books", "shelf_capacity", "catalog_items"} {
		if !strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("schema missing table %s", table)
		}
	}
}

func TestParseID(t *testing.T) {
	id := uuid.New()
	got, err := parseID(id.String())
	if err != nil {
		t.Fatalf("parseID() error = %v", err)
	}
	if got != id {
		t.Errorf("parseID() = %v, want %v", got, id)
	}

	if _, err := parseID("not-a-uuid"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("parseID(invalid) kind = %v, want validation", apperr.KindOf(err))
	}
}

func TestEncodeErrors(t *testing.T) {
	b, err := encodeErrors(nil)
	if err != nil {
		t.Fatalf("encodeErrors(nil) error = %v", err)
	}
	if string(b) != "[]" {
		t.Errorf("encodeErrors(nil) = %s, want []", b)
	}

	b, err = encodeErrors([]core.BatchError{{Row: 3, Error: "Invalid ISBN format: 123", Identifier: "123"}})
	if err != nil {
		t.Fatalf("encodeErrors() error = %v", err)
	}
	want := `[{"row":3,"error":"Invalid ISBN format: 123","identifier":"123"}]`
	if string(b) != want {
		t.Errorf("encodeErrors() = %s, want %s", b, want)
	}
}

func TestWrapPg(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "batch_uploads_pkey"}
	err := wrapPg(dup)
	if !strings.HasPrefix(err.Error(), "duplicate key: batch_uploads_pkey") {
		t.Errorf("wrapPg() = %q, want duplicate key prefix", err)
	}
	if !errors.Is(err, dup) {
		t.Error("wrapPg() lost the original error")
	}

	other := errors.New("boom")
	if got := wrapPg(other); got != other {
		t.Errorf("wrapPg(other) = %v, want passthrough", got)
	}
}

// openTestStore connects to SHELVER_TEST_DATABASE_URL or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SHELVER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SHELVER_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, config.DatabaseConfig{URL: url, MaxConns: 10})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestReserveNeverOverbooks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	shelf := "T" + strings.ToUpper(uuid.NewString()[:6])

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveShelfCapacity(ctx, shelf, "01", 10, 1)
			if err != nil {
				t.Errorf("ReserveShelfCapacity() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if won != 10 {
		t.Errorf("reservations won = %d, want 10", won)
	}
	row, ok, err := s.QueryShelfCapacity(ctx, shelf, "01")
	if err != nil || !ok {
		t.Fatalf("QueryShelfCapacity() = %v, %v", ok, err)
	}
	if row.CurrentCount != 10 {
		t.Errorf("CurrentCount = %d, want 10", row.CurrentCount)
	}
}

func TestCreateBatchRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	batch := &core.Batch{
		ID:           uuid.NewString(),
		Filename:     "books.csv",
		TotalRecords: 2,
		Status:       core.StatusProcessing,
		ErrorLog:     []core.BatchError{{Row: 3, Error: "Invalid ISBN format: 1"}},
		CreatedAt:    now,
	}
	records := []core.Record{
		{ID: uuid.NewString(), BatchID: batch.ID, Row: 2, Title: "Dune", Condition: "Good", Quantity: 1, Status: core.StatusPending, CreatedAt: now},
		{ID: uuid.NewString(), BatchID: batch.ID, Row: 3, ISBN: "1", Condition: "Good", Status: core.StatusFailed, ErrorMessage: "Invalid ISBN format: 1", CreatedAt: now},
	}
	if err := s.CreateBatch(ctx, batch, records); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	if err := s.AppendBatchError(ctx, batch.ID, core.BatchError{Row: 2, Error: "no shelf space"}); err != nil {
		t.Fatalf("AppendBatchError() error = %v", err)
	}
	got, err := s.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if len(got.ErrorLog) != 2 {
		t.Errorf("len(ErrorLog) = %d, want 2", len(got.ErrorLog))
	}

	counts, err := s.CountRecordsByStatus(ctx, batch.ID)
	if err != nil {
		t.Fatalf("CountRecordsByStatus() error = %v", err)
	}
	if counts[core.StatusPending] != 1 || counts[core.StatusFailed] != 1 {
		t.Errorf("counts = %v, want 1 pending and 1 failed", counts)
	}

	n, err := s.FailOpenRecords(ctx, batch.ID, "batch aborted", now)
	if err != nil {
		t.Fatalf("FailOpenRecords() error = %v", err)
	}
	if n != 1 {
		t.Errorf("FailOpenRecords() = %d, want 1", n)
	}

	if _, err := s.GetBatch(ctx, uuid.NewString()); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("GetBatch(missing) kind = %v, want not_found", apperr.KindOf(err))
	}
}
