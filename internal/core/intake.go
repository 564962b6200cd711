package core

// intake.go accepts manifests and runs their batches.
//
// Accept is synchronous: it validates the whole manifest and queues every
// record in one transaction, then hands the batch to a background job and
// returns. The job resolves each queued record through processRecord and
// finally derives the batch counts from persisted record states. A batch is
// "failed" only when the job itself cannot finish; individual record failures
// leave it "completed" with partial counts.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/shelver/internal/apperr"
	"github.com/JonMunkholm/shelver/internal/enrich"
	"github.com/JonMunkholm/shelver/internal/logging"
)

// Acceptance is returned to the caller once a batch is queued.
type Acceptance struct {
	BatchID  string       `json:"batch_id"`
	Total    int          `json:"total_records"`
	Queued   int          `json:"queued"`
	Rejected int          `json:"rejected"`
	Errors   []BatchError `json:"errors"`
}

// Accept validates and queues m, then starts processing it in the
// background. Structural problems reject the whole manifest and nothing is
// queued.
func (s *Service) Accept(ctx context.Context, m Manifest) (*Acceptance, error) {
	log := logging.FromContext(ctx)

	rows := m.Rows
	if rows == nil {
		parsed, err := ParseManifest(m.Filename, m.Data)
		if err != nil {
			return nil, err
		}
		rows = parsed
	}
	if err := ValidateBatchSize(len(rows), s.opts.BatchLimit); err != nil {
		return nil, err
	}
	for _, img := range m.Images {
		if err := ValidateImageName(img.Name); err != nil {
			return nil, err
		}
	}

	if s.runner.Stopped() {
		return nil, apperr.E(apperr.KindUnavailable, "accept", ErrRunnerStopped)
	}

	now := s.now()
	batch := &Batch{
		ID:           uuid.NewString(),
		Filename:     m.Filename,
		TotalRecords: len(rows),
		Status:       StatusPending,
		ErrorLog:     []BatchError{},
		CreatedAt:    now,
	}
	log = log.With("batch_id", batch.ID)

	records := make([]Record, len(rows))
	rejected := 0
	for i, row := range rows {
		rec, problems := ValidateRecord(row.Fields, row.Row)
		rec.ID = uuid.NewString()
		rec.BatchID = batch.ID
		rec.CreatedAt = now
		if len(problems) > 0 {
			rec.ErrorMessage = strings.Join(problems, "; ")
			_ = rec.Transition(StatusFailed, now)
			batch.ErrorLog = append(batch.ErrorLog, BatchError{Row: rec.Row, Error: rec.ErrorMessage, Identifier: rec.Identifier()})
			rejected++
		}
		records[i] = rec
	}
	batch.FailedRecords = rejected
	batch.ProcessedRecords = rejected

	s.attachImages(ctx, batch.ID, records, m.Images)

	if err := batch.Transition(StatusProcessing, now); err != nil {
		return nil, apperr.E(apperr.KindInternal, "accept", err)
	}
	if err := s.store.CreateBatch(ctx, batch, records); err != nil {
		log.Error("queue batch failed", "error", err)
		s.persistFailedShell(ctx, batch, err)
		return nil, apperr.E(apperr.KindInternal, "queue batch", err)
	}

	if _, err := s.runner.Submit(Job{
		BatchID: batch.ID,
		Run:     func(ctx context.Context) error { return s.runBatch(ctx, batch.ID) },
	}); err != nil {
		s.failBatch(context.WithoutCancel(ctx), batch.ID, err)
		return nil, apperr.E(apperr.KindUnavailable, "submit batch", err)
	}

	log.Info("batch accepted",
		"filename", m.Filename,
		"total", batch.TotalRecords,
		"queued", batch.TotalRecords-rejected,
		"rejected", rejected,
	)
	return &Acceptance{
		BatchID:  batch.ID,
		Total:    batch.TotalRecords,
		Queued:   batch.TotalRecords - rejected,
		Rejected: rejected,
		Errors:   batch.ErrorLog,
	}, nil
}

// attachImages saves matched images and records their references. A failed
// save only loses the image.
func (s *Service) attachImages(ctx context.Context, batchID string, records []Record, images []Image) {
	if len(images) == 0 {
		return
	}
	log := logging.FromContext(ctx)
	if s.images == nil {
		log.Warn("images uploaded but no image store configured", "count", len(images))
		return
	}
	for i, img := range MatchImages(records, images) {
		if records[i].Status == StatusFailed {
			continue
		}
		ref, err := s.images.Save(ctx, batchID, img)
		if err != nil {
			log.Warn("save image failed", "image", img.Name, "row", records[i].Row, "error", err)
			continue
		}
		records[i].ImageRef = ref
	}
}

// persistFailedShell records a batch whose queuing transaction failed so the
// failure stays visible. It is best effort.
func (s *Service) persistFailedShell(ctx context.Context, batch *Batch, cause error) {
	shell := *batch
	shell.Status = StatusPending
	shell.ProcessedRecords, shell.SuccessfulRecords = 0, 0
	shell.FailedRecords = shell.TotalRecords
	shell.ErrorLog = []BatchError{{Error: "queue batch: " + cause.Error()}}
	_ = shell.Transition(StatusFailed, s.now())

	if err := s.store.CreateFailedBatch(context.WithoutCancel(ctx), &shell); err != nil {
		logging.FromContext(ctx).Error("persist failed batch shell", "batch_id", shell.ID, "error", err)
	}
}

// RecordOutcome is what processRecord reports for one record.
type RecordOutcome struct {
	Status    Status
	Placement PlacementResult
}

// runBatch is the background job for one batch.
func (s *Service) runBatch(ctx context.Context, batchID string) error {
	log := logging.FromContext(ctx)
	start := s.now()

	if err := s.limiter.Acquire(ctx); err != nil {
		s.failBatch(ctx, batchID, err)
		return err
	}
	defer s.limiter.Release()

	if s.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.BatchTimeout)
		defer cancel()
	}

	records, err := s.store.ListRecords(ctx, RecordFilter{BatchID: batchID, Status: StatusPending})
	if err != nil {
		err = fmt.Errorf("list queued records: %w", err)
		s.failBatch(ctx, batchID, err)
		return err
	}

	s.track(batchID, len(records))
	defer s.untrack(batchID)
	log.Info("batch processing started", "records", len(records))

	opts := s.opts.Processing
	userProgress := opts.OnProgress
	opts.OnProgress = func(completed, total int) {
		s.progress(batchID, completed, total)
		if userProgress != nil {
			userProgress(completed, total)
		}
	}
	result := ProcessBatch(ctx, records, s.processRecord, opts)

	for _, f := range result.Failures {
		rec := f.Item
		s.failRecord(ctx, &rec, f.Err)
	}

	if err := s.finishBatch(context.WithoutCancel(ctx), batchID, StatusCompleted, start); err != nil {
		s.failBatch(context.WithoutCancel(ctx), batchID, err)
		return err
	}
	return nil
}

// processRecord enriches, places and persists one queued record. Failures
// after the record is marked processing are handled here: the record is
// failed and any reservation released. An error is returned only when the
// record could not be updated at all.
func (s *Service) processRecord(ctx context.Context, rec Record) (RecordOutcome, error) {
	log := logging.FromContext(ctx).With("record_id", rec.ID, "row", rec.Row)

	if err := rec.Transition(StatusProcessing, s.now()); err != nil {
		return RecordOutcome{}, err
	}
	if err := s.store.UpdateRecord(ctx, &rec); err != nil {
		return RecordOutcome{}, fmt.Errorf("mark processing: %w", err)
	}

	known := enrich.Metadata{
		Title:       rec.Title,
		Author:      rec.Author,
		Publisher:   rec.Publisher,
		Description: rec.Description,
		Genre:       rec.Genre,
		Format:      rec.Format,
		Pages:       rec.Pages,
		CoverURL:    rec.CoverURL,
	}
	res := s.enricher.Enrich(ctx, enrich.Request{
		Identifiers: enrich.Identifiers{ISBN: rec.ISBN, UPC: rec.UPC, ASIN: rec.ASIN, Title: rec.Title, Author: rec.Author},
		Known:       known,
	})
	merged := res.Metadata.Over(known)
	rec.Title = truncate(merged.Title, MaxTitleLength)
	rec.Author = truncate(merged.Author, MaxAuthorLength)
	rec.Publisher = truncate(merged.Publisher, MaxPublisherLength)
	rec.Genre = truncate(merged.Genre, MaxGenreLength)
	rec.Description = merged.Description
	rec.Format = merged.Format
	rec.Pages = merged.Pages
	rec.CoverURL = merged.CoverURL
	rec.EnrichmentSource = res.Source
	rec.EnrichmentStatus = string(res.Status)
	if res.Err != nil {
		log.Warn("record enrichment degraded", "status", res.Status, "error", res.Err)
	}

	placement, err := s.placer.Place(ctx, PlacementRequest{
		Author:           rec.Author,
		Genre:            rec.Genre,
		PreferredShelf:   rec.PreferredShelf,
		PreferredSection: rec.PreferredSection,
		Quantity:         rec.Quantity,
	})
	if err != nil {
		s.failRecord(ctx, &rec, fmt.Errorf("no shelf space reserved: %w", err))
		return RecordOutcome{Status: StatusFailed}, nil
	}
	rec.AssignedShelf = placement.Shelf
	rec.AssignedSection = placement.Section
	rec.PlacementReason = placement.Reason
	defer func() {
		if p := recover(); p != nil {
			s.release(ctx, &rec)
			panic(p)
		}
	}()

	if err := s.upsertCatalog(ctx, &rec); err != nil {
		s.release(ctx, &rec)
		s.failRecord(ctx, &rec, fmt.Errorf("catalog upsert: %w", err))
		return RecordOutcome{Status: StatusFailed}, nil
	}

	done := rec
	if err := done.Transition(StatusCompleted, s.now()); err != nil {
		return RecordOutcome{}, err
	}
	if err := s.store.UpdateRecord(ctx, &done); err != nil {
		s.release(ctx, &rec)
		s.failRecord(ctx, &rec, fmt.Errorf("persist record: %w", err))
		return RecordOutcome{Status: StatusFailed}, nil
	}
	rec = done

	s.recorder.RecordProcessed(string(StatusCompleted))
	log.Debug("record completed",
		"shelf", rec.AssignedShelf,
		"section", rec.AssignedSection,
		"reason", rec.PlacementReason,
		"source", rec.EnrichmentSource,
	)
	return RecordOutcome{Status: StatusCompleted, Placement: placement}, nil
}

func (s *Service) upsertCatalog(ctx context.Context, rec *Record) error {
	_, err := s.store.UpsertCatalogItem(ctx, CatalogItem{
		Key:         CatalogKey(rec),
		ISBN:        rec.ISBN,
		UPC:         rec.UPC,
		ASIN:        rec.ASIN,
		Title:       rec.Title,
		Author:      rec.Author,
		Publisher:   rec.Publisher,
		Description: rec.Description,
		Genre:       rec.Genre,
		Format:      rec.Format,
		Pages:       rec.Pages,
		CoverURL:    rec.CoverURL,
		Condition:   rec.Condition,
		Quantity:    rec.Quantity,
		Shelf:       rec.AssignedShelf,
		Section:     rec.AssignedSection,
		UpdatedAt:   s.now(),
	})
	return err
}

// release gives back the space reserved for rec.
func (s *Service) release(ctx context.Context, rec *Record) {
	if rec.AssignedShelf == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := s.ledger.Increment(ctx, rec.AssignedShelf, rec.AssignedSection, -rec.Quantity); err != nil {
		logging.FromContext(ctx).Error("release reservation failed",
			"record_id", rec.ID, "shelf", rec.AssignedShelf, "section", rec.AssignedSection, "error", err)
	}
	rec.AssignedShelf, rec.AssignedSection, rec.PlacementReason = "", "", ""
}

// failRecord marks rec failed, bumps its attempt counter and logs the error
// on the batch. Storage errors are logged; the job continues.
func (s *Service) failRecord(ctx context.Context, rec *Record, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx).With("record_id", rec.ID, "row", rec.Row)

	rec.ErrorMessage = cause.Error()
	rec.EnrichmentAttempts++
	if err := rec.Transition(StatusFailed, s.now()); err != nil {
		log.Error("fail record", "error", err)
		return
	}
	if err := s.store.UpdateRecord(ctx, rec); err != nil {
		log.Error("persist failed record", "error", err)
	}
	entry := BatchError{Row: rec.Row, Error: cause.Error(), Identifier: rec.Identifier()}
	if err := s.store.AppendBatchError(ctx, rec.BatchID, entry); err != nil {
		log.Error("append batch error", "error", err)
	}
	s.recorder.RecordProcessed(string(StatusFailed))
	log.Warn("record failed", "error", cause)
}

// finishBatch derives the final counts from record states and moves the
// batch to status. Records still open are failed first.
func (s *Service) finishBatch(ctx context.Context, batchID string, status Status, start time.Time) error {
	log := logging.FromContext(ctx)
	if n, err := s.store.FailOpenRecords(ctx, batchID, "batch finished before record was processed", s.now()); err != nil {
		return fmt.Errorf("fail open records: %w", err)
	} else if n > 0 {
		log.Warn("failed records left open", "count", n)
	}

	counts, err := s.store.CountRecordsByStatus(ctx, batchID)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}

	sum := Summarize(batch.TotalRecords, counts)
	batch.ProcessedRecords = sum.Processed
	batch.SuccessfulRecords = sum.Successful
	batch.FailedRecords = sum.Failed
	if err := batch.Transition(status, s.now()); err != nil {
		return err
	}
	if err := s.store.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}

	s.recorder.BatchFinished(string(status), s.now().Sub(start))
	log.Info("batch finished",
		"status", status,
		"total", batch.TotalRecords,
		"successful", batch.SuccessfulRecords,
		"failed", batch.FailedRecords,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return nil
}

// failBatch is the job-level failure path: open records are failed, the
// cause is logged on the batch and the batch moves to failed. Best effort.
func (s *Service) failBatch(ctx context.Context, batchID string, cause error) {
	log := logging.FromContext(ctx)
	log.Error("batch failed", "error", cause)

	if err := s.store.AppendBatchError(ctx, batchID, BatchError{Error: cause.Error()}); err != nil {
		log.Error("append batch error", "error", err)
	}
	if err := s.finishBatch(ctx, batchID, StatusFailed, s.now()); err != nil && !errors.Is(err, ErrInvalidTransition) {
		log.Error("mark batch failed", "error", err)
	}
}
