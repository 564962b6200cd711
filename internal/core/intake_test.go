package core_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/shelver/internal/apperr"
	"github.com/JonMunkholm/shelver/internal/core"
	"github.com/JonMunkholm/shelver/internal/enrich"
	"github.com/JonMunkholm/shelver/internal/store/memory"
)

// fakeEnricher answers from a fixed table keyed by ISBN. Unknown items come
// back degraded with the caller's own metadata.
type fakeEnricher struct {
	mu    sync.Mutex
	books map[string]enrich.Metadata
	calls int
}

func (f *fakeEnricher) Enrich(_ context.Context, req enrich.Request) *enrich.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if md, ok := f.books[req.ISBN]; ok {
		return &enrich.Result{Metadata: md, Source: "fake", Status: enrich.StatusCompleted}
	}
	return &enrich.Result{
		Metadata: req.Known,
		Source:   enrich.SourceManifest,
		Status:   enrich.StatusDegraded,
		Err:      errors.New("all enrichment providers failed"),
	}
}

func newTestService(store core.Store, opts core.Options) *core.Service {
	enricher := &fakeEnricher{books: map[string]enrich.Metadata{
		"9780306406157": {Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", Pages: 412},
	}}
	return core.NewService(store, enricher, opts)
}

func waitFor(t *testing.T, svc *core.Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

const threeBookCSV = `isbn,title,author,quantity
978-0-306-40615-7,,,1
12345,Broken,Nobody,1
,Emma,Jane Austen,2
`

func TestAccept_EndToEnd(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, core.Options{})
	ctx := context.Background()

	acc, err := svc.Accept(ctx, core.Manifest{Filename: "books.csv", Data: []byte(threeBookCSV)})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if acc.Total != 3 || acc.Queued != 2 || acc.Rejected != 1 {
		t.Errorf("Acceptance = %d/%d/%d, want 3 total, 2 queued, 1 rejected", acc.Total, acc.Queued, acc.Rejected)
	}
	if len(acc.Errors) != 1 || acc.Errors[0].Row != 2 || !strings.Contains(acc.Errors[0].Error, "Invalid ISBN format") {
		t.Errorf("Errors = %+v, want one invalid ISBN entry for row 2", acc.Errors)
	}

	waitFor(t, svc)

	report, err := svc.Status(ctx, acc.BatchID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if report.Status != core.StatusCompleted {
		t.Errorf("Status = %s, want completed", report.Status)
	}
	if report.Successful != 2 || report.Failed != 1 || report.Processed != 3 {
		t.Errorf("counts = %d ok, %d failed, %d processed, want 2, 1, 3", report.Successful, report.Failed, report.Processed)
	}
	if report.Progress != 100 {
		t.Errorf("Progress = %v, want 100", report.Progress)
	}
	if report.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}

	view, err := svc.Queue(ctx, core.RecordFilter{BatchID: acc.BatchID})
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if len(view.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(view.Records))
	}

	dune := view.Records[0]
	if dune.Title != "Dune" || dune.EnrichmentSource != "fake" {
		t.Errorf("dune = %q from %q, want Dune from fake", dune.Title, dune.EnrichmentSource)
	}
	if dune.AssignedShelf != "H" || dune.AssignedSection != "01" || dune.PlacementReason != core.ReasonAuthorAlpha {
		t.Errorf("dune placed %s/%s (%s), want H/01 author_alpha", dune.AssignedShelf, dune.AssignedSection, dune.PlacementReason)
	}

	emma := view.Records[2]
	if emma.Status != core.StatusCompleted || emma.EnrichmentStatus != string(enrich.StatusDegraded) {
		t.Errorf("emma = %s/%s, want completed/degraded", emma.Status, emma.EnrichmentStatus)
	}
	if emma.AssignedShelf != "A" {
		t.Errorf("emma shelf = %q, want A", emma.AssignedShelf)
	}

	item, ok, _ := store.GetCatalogItem(ctx, "isbn:9780306406157")
	if !ok || item.Quantity != 1 || item.Shelf != "H" {
		t.Errorf("catalog item = %+v, %v, want quantity 1 on H", item, ok)
	}

	row, _, _ := store.QueryShelfCapacity(ctx, "A", "01")
	if row.CurrentCount != 2 {
		t.Errorf("A/01 count = %d, want 2", row.CurrentCount)
	}
}

func TestAccept_StructuralRejection(t *testing.T) {
	tests := []struct {
		name string
		opts core.Options
		m    core.Manifest
	}{
		{"header only", core.Options{}, core.Manifest{Filename: "books.csv", Data: []byte("isbn,title\n")}},
		{"over limit", core.Options{BatchLimit: 1}, core.Manifest{Filename: "books.csv", Data: []byte(threeBookCSV)}},
		{"bad image", core.Options{}, core.Manifest{
			Filename: "books.csv",
			Data:     []byte(threeBookCSV),
			Images:   []core.Image{{Name: "cover.gif"}},
		}},
		{"unsupported format", core.Options{}, core.Manifest{Filename: "books.pdf", Data: []byte("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			svc := newTestService(store, tt.opts)

			_, err := svc.Accept(context.Background(), tt.m)
			if !apperr.Is(err, apperr.KindStructural) {
				t.Fatalf("Accept() kind = %v (%v), want structural", apperr.KindOf(err), err)
			}
			if n := len(store.Batches()); n != 0 {
				t.Errorf("batches stored = %d, want 0", n)
			}
		})
	}
}

func TestAccept_QueueFailurePersistsFailedShell(t *testing.T) {
	store := memory.New()
	store.FailCreate = errors.New("connection refused")
	svc := newTestService(store, core.Options{})

	acc, err := svc.Accept(context.Background(), core.Manifest{Filename: "books.csv", Data: []byte(threeBookCSV)})
	if err == nil {
		t.Fatalf("Accept() = %+v, want error", acc)
	}
	if apperr.Is(err, apperr.KindStructural) {
		t.Errorf("Accept() kind = structural, want internal")
	}

	batches := store.Batches()
	if len(batches) != 1 {
		t.Fatalf("batches stored = %d, want 1 failed shell", len(batches))
	}
	shell := batches[0]
	if shell.Status != core.StatusFailed {
		t.Errorf("shell status = %s, want failed", shell.Status)
	}
	if len(shell.ErrorLog) != 1 || !strings.Contains(shell.ErrorLog[0].Error, "connection refused") {
		t.Errorf("shell error log = %+v, want the queue error", shell.ErrorLog)
	}

	records, _ := store.ListRecords(context.Background(), core.RecordFilter{})
	if len(records) != 0 {
		t.Errorf("records stored = %d, want 0", len(records))
	}
}

// catalogFailStore fails every catalog upsert.
type catalogFailStore struct {
	*memory.Store
}

func (catalogFailStore) UpsertCatalogItem(context.Context, core.CatalogItem) (core.CatalogItem, error) {
	return core.CatalogItem{}, errors.New("deadlock detected")
}

func TestProcess_FailureReleasesReservation(t *testing.T) {
	mem := memory.New()
	svc := newTestService(catalogFailStore{mem}, core.Options{})
	ctx := context.Background()

	acc, err := svc.Accept(ctx, core.Manifest{
		Filename: "books.csv",
		Data:     []byte("title,author,quantity,shelf_location\nEmma,Jane Austen,4,B-2\n"),
	})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	waitFor(t, svc)

	report, _ := svc.Status(ctx, acc.BatchID)
	if report.Status != core.StatusCompleted || report.Failed != 1 {
		t.Errorf("report = %s with %d failed, want completed with 1 failed", report.Status, report.Failed)
	}
	if len(report.ErrorLog) != 1 || !strings.Contains(report.ErrorLog[0].Error, "deadlock") {
		t.Errorf("ErrorLog = %+v, want the catalog error", report.ErrorLog)
	}

	row, ok, _ := mem.QueryShelfCapacity(ctx, "B", "02")
	if !ok {
		t.Fatal("B/02 row missing, want reserved then released")
	}
	if row.CurrentCount != 0 {
		t.Errorf("B/02 count = %d, want 0 after release", row.CurrentCount)
	}

	records, _ := mem.ListRecords(ctx, core.RecordFilter{BatchID: acc.BatchID})
	rec := records[0]
	if rec.Status != core.StatusFailed || rec.EnrichmentAttempts != 1 || rec.AssignedShelf != "" {
		t.Errorf("record = %s, attempts %d, shelf %q, want failed, 1, empty", rec.Status, rec.EnrichmentAttempts, rec.AssignedShelf)
	}
}

func TestAccept_ConcurrentBatchesNeverOverbook(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, core.Options{
		DefaultSectionCapacity: 5,
		Processing:             core.ProcessOptions{SubBatchSize: 3, Concurrency: 4},
		Placement:              core.PlacementOptions{MaxSectionsPerShelf: 2},
	})
	ctx := context.Background()

	const batches, perBatch = 4, 15
	var ids []string
	for b := 0; b < batches; b++ {
		var sb strings.Builder
		sb.WriteString("title,author,quantity\n")
		for i := 0; i < perBatch; i++ {
			fmt.Fprintf(&sb, "Book %d-%d,Ann Applegate,%d\n", b, i, 1+i%3)
		}
		acc, err := svc.Accept(ctx, core.Manifest{Filename: "books.csv", Data: []byte(sb.String())})
		if err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
		ids = append(ids, acc.BatchID)
	}
	waitFor(t, svc)

	placed := 0
	for _, id := range ids {
		report, err := svc.Status(ctx, id)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if report.Successful != perBatch {
			t.Errorf("batch %s successful = %d, want %d", id, report.Successful, perBatch)
		}
		records, _ := store.ListRecords(ctx, core.RecordFilter{BatchID: id})
		for _, r := range records {
			placed += r.Quantity
		}
	}

	capacity, err := svc.CapacityReport(ctx)
	if err != nil {
		t.Fatalf("CapacityReport() error = %v", err)
	}
	for _, row := range capacity.Sections {
		if row.CurrentCount > row.MaxCapacity {
			t.Errorf("row %s/%s overbooked: %d > %d", row.Shelf, row.Section, row.CurrentCount, row.MaxCapacity)
		}
	}
	if capacity.TotalCount != placed {
		t.Errorf("ledger total = %d, want %d", capacity.TotalCount, placed)
	}
}

func TestStatus_NotFound(t *testing.T) {
	svc := newTestService(memory.New(), core.Options{})
	if _, err := svc.Status(context.Background(), "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Status(missing) kind = %v, want not_found", apperr.KindOf(err))
	}
}

func TestAccept_AfterWaitIsUnavailable(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, core.Options{})
	waitFor(t, svc)

	_, err := svc.Accept(context.Background(), core.Manifest{Filename: "books.csv", Data: []byte(threeBookCSV)})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("Accept() kind = %v, want unavailable", apperr.KindOf(err))
	}
	if batches := store.Batches(); len(batches) != 0 {
		t.Errorf("batches stored = %d, want 0", len(batches))
	}
}

func TestAccept_InvalidQuantityOnSecondRecord(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, core.Options{})
	ctx := context.Background()

	data := "title,author,quantity\nDune,Frank Herbert,1\nEmma,Jane Austen,0\nBeloved,Toni Morrison,2\n"
	acc, err := svc.Accept(ctx, core.Manifest{Filename: "books.csv", Data: []byte(data)})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if acc.Total != 3 || acc.Rejected != 1 {
		t.Errorf("Acceptance = %d total, %d rejected, want 3 and 1", acc.Total, acc.Rejected)
	}
	waitFor(t, svc)

	report, err := svc.Status(ctx, acc.BatchID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if report.Status != core.StatusCompleted || report.Successful != 2 || report.Failed != 1 {
		t.Errorf("report = %s, %d ok, %d failed, want completed, 2, 1", report.Status, report.Successful, report.Failed)
	}
	if len(report.ErrorLog) != 1 || report.ErrorLog[0].Row != 2 || report.ErrorLog[0].Identifier != "Emma" {
		t.Errorf("ErrorLog = %+v, want one entry for row 2 (Emma)", report.ErrorLog)
	}
}

func TestAccept_OneErrorEntryPerRejectedRecord(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, core.Options{})
	ctx := context.Background()

	data := "isbn,title,condition,quantity\n12345,Broken,Mint,0\nx,,,\n"
	acc, err := svc.Accept(ctx, core.Manifest{Filename: "books.csv", Data: []byte(data)})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	waitFor(t, svc)

	report, _ := svc.Status(ctx, acc.BatchID)
	if report.Failed != 2 || len(report.ErrorLog) != report.Failed {
		t.Fatalf("failed = %d, error log = %+v, want one entry per failed record", report.Failed, report.ErrorLog)
	}
	first := report.ErrorLog[0].Error
	for _, want := range []string{"Invalid ISBN format", "Quantity", "Invalid condition"} {
		if !strings.Contains(first, want) {
			t.Errorf("error %q missing %q", first, want)
		}
	}
}

func TestStatus_IndependentOfCompletionOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	outcomes := []core.Status{
		core.StatusCompleted, core.StatusFailed, core.StatusCompleted, core.StatusCompleted,
		core.StatusFailed, core.StatusCompleted, core.StatusCompleted, core.StatusFailed,
	}

	var want *core.BatchReport
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		store := memory.New()
		svc := newTestService(store, core.Options{})
		batch := &core.Batch{ID: fmt.Sprintf("b%d", round), TotalRecords: len(outcomes), Status: core.StatusProcessing, CreatedAt: now}
		records := make([]core.Record, len(outcomes))
		for i := range records {
			records[i] = core.Record{ID: fmt.Sprintf("%s-r%d", batch.ID, i), BatchID: batch.ID, Row: i + 1, Status: core.StatusPending}
		}
		if err := store.CreateBatch(ctx, batch, records); err != nil {
			t.Fatalf("CreateBatch() error = %v", err)
		}

		for _, i := range rng.Perm(len(records)) {
			rec := records[i]
			if err := rec.Transition(core.StatusProcessing, now); err != nil {
				t.Fatal(err)
			}
			if err := rec.Transition(outcomes[i], now); err != nil {
				t.Fatal(err)
			}
			if err := store.UpdateRecord(ctx, &rec); err != nil {
				t.Fatalf("UpdateRecord() error = %v", err)
			}
		}

		got, err := svc.Status(ctx, batch.ID)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if want == nil {
			want = got
			if got.Successful != 5 || got.Failed != 3 || got.Progress != 100 {
				t.Fatalf("summary = %+v, want 5 ok, 3 failed, 100%%", got.Summary)
			}
			continue
		}
		if got.Summary != want.Summary {
			t.Errorf("round %d summary = %+v, want %+v", round, got.Summary, want.Summary)
		}
	}
}
