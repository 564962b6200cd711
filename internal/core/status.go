package core

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

// Summary is the count view of a batch derived from its records.
type Summary struct {
	Total      int     `json:"total_records"`
	Pending    int     `json:"pending"`
	Processing int     `json:"processing"`
	Successful int     `json:"successful_records"`
	Failed     int     `json:"failed_records"`
	Processed  int     `json:"processed_records"`
	Progress   float64 `json:"progress"`
}

// Summarize derives counts and progress from per-status record counts. It
// depends only on the counts, never on the order records finished in.
// Progress is (completed+failed)/total*100, rounded to two decimals.
func Summarize(total int, counts map[Status]int) Summary {
	sum := Summary{
		Total:      total,
		Pending:    counts[StatusPending],
		Processing: counts[StatusProcessing],
		Successful: counts[StatusCompleted],
		Failed:     counts[StatusFailed],
	}
	sum.Processed = sum.Successful + sum.Failed
	if total > 0 {
		sum.Progress = math.Round(float64(sum.Processed)/float64(total)*10000) / 100
	}
	return sum
}

// BatchReport is the status view served for one batch.
type BatchReport struct {
	Summary

	BatchID     string       `json:"batch_id"`
	Filename    string       `json:"filename,omitempty"`
	Status      Status       `json:"status"`
	ErrorLog    []BatchError `json:"error_log"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Status reports a batch's progress from its persisted record states.
func (s *Service) Status(ctx context.Context, batchID string) (*BatchReport, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		return nil, apperr.E(apperr.KindInternal, "get batch", err)
	}
	counts, err := s.store.CountRecordsByStatus(ctx, batchID)
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, "count records", err)
	}

	errs := batch.ErrorLog
	if errs == nil {
		errs = []BatchError{}
	}
	return &BatchReport{
		BatchID:     batch.ID,
		Filename:    batch.Filename,
		Status:      batch.Status,
		Summary:     Summarize(batch.TotalRecords, counts),
		ErrorLog:    errs,
		CreatedAt:   batch.CreatedAt,
		CompletedAt: batch.CompletedAt,
	}, nil
}

// ActiveBatch describes a batch job currently running in this process.
type ActiveBatch struct {
	BatchID   string    `json:"batch_id"`
	StartedAt time.Time `json:"started_at"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
}

// QueueView lists records plus the jobs running right now.
type QueueView struct {
	Records []Record      `json:"records"`
	Active  []ActiveBatch `json:"active_batches"`
	Limiter LimiterStatus `json:"limiter"`
}

// DefaultQueueLimit caps Queue when the filter has no limit.
const DefaultQueueLimit = 100

// Queue lists records matching filter along with in-flight batch jobs.
func (s *Service) Queue(ctx context.Context, filter RecordFilter) (*QueueView, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueueLimit
	}
	records, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, "list records", err)
	}
	if records == nil {
		records = []Record{}
	}

	s.mu.RLock()
	active := make([]ActiveBatch, 0, len(s.active))
	for id, a := range s.active {
		active = append(active, ActiveBatch{BatchID: id, StartedAt: a.StartedAt, Completed: a.Completed, Total: a.Total})
	}
	s.mu.RUnlock()
	sort.Slice(active, func(i, j int) bool { return active[i].StartedAt.Before(active[j].StartedAt) })

	return &QueueView{Records: records, Active: active, Limiter: s.limiter.Status()}, nil
}

// CapacityReport snapshots the shelf capacity ledger.
func (s *Service) CapacityReport(ctx context.Context) (CapacityReport, error) {
	return s.ledger.Report(ctx)
}
