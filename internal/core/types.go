// Package core is the ingestion core: it validates manifests, queues records
// transactionally, enriches and places them in the background, and derives
// batch status. It has no transport dependencies and can be driven by the
// HTTP server or the CLI alike.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state shared by batches and records.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus resolves a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists the allowed moves. Records failing validation go straight
// from pending to failed, as do records abandoned by a failed batch job.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// BatchError is one entry of a batch's error log.
type BatchError struct {
	Row        int    `json:"row"`
	Error      string `json:"error"`
	Identifier string `json:"identifier,omitempty"`
}

// Batch is one accepted manifest.
type Batch struct {
	ID                string       `json:"id"`
	Filename          string       `json:"filename,omitempty"`
	TotalRecords      int          `json:"total_records"`
	ProcessedRecords  int          `json:"processed_records"`
	SuccessfulRecords int          `json:"successful_records"`
	FailedRecords     int          `json:"failed_records"`
	Status            Status       `json:"status"`
	ErrorLog          []BatchError `json:"error_log"`
	CreatedAt         time.Time    `json:"created_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
}

// Transition moves the batch to status to, stamping CompletedAt on terminal states.
func (b *Batch) Transition(to Status, now time.Time) error {
	if err := transition(b.Status, to); err != nil {
		return fmt.Errorf("batch %s: %w", b.ID, err)
	}
	b.Status = to
	if to.Terminal() {
		b.CompletedAt = &now
	}
	return nil
}

// Record is one manifest row queued for processing.
type Record struct {
	ID      string `json:"id"`
	BatchID string `json:"batch_id"`
	Row     int    `json:"row"`

	ISBN        string `json:"isbn,omitempty"`
	UPC         string `json:"upc,omitempty"`
	ASIN        string `json:"asin,omitempty"`
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Description string `json:"description,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Format      string `json:"format,omitempty"`
	Pages       int    `json:"pages,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
	Condition   string `json:"condition"`
	Quantity    int    `json:"quantity"`

	PreferredShelf   string `json:"preferred_shelf,omitempty"`
	PreferredSection string `json:"preferred_section,omitempty"`

	Status             Status          `json:"processing_status"`
	AssignedShelf      string          `json:"assigned_shelf,omitempty"`
	AssignedSection    string          `json:"assigned_section,omitempty"`
	PlacementReason    PlacementReason `json:"placement_reason,omitempty"`
	EnrichmentSource   string          `json:"enrichment_source,omitempty"`
	EnrichmentStatus   string          `json:"enrichment_status,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	EnrichmentAttempts int             `json:"enrichment_attempts"`
	ImageRef           string          `json:"user_image_reference,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Identifier returns the most specific identifier present, for error logs.
func (r *Record) Identifier() string {
	for _, v := range []string{r.ISBN, r.UPC, r.ASIN, r.Title} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Transition moves the record to status to, stamping ProcessedAt on terminal states.
func (r *Record) Transition(to Status, now time.Time) error {
	if err := transition(r.Status, to); err != nil {
		return fmt.Errorf("record %s: %w", r.ID, err)
	}
	r.Status = to
	if to.Terminal() {
		r.ProcessedAt = &now
	}
	return nil
}

// ShelfCapacity is the ledger row for one shelf section.
type ShelfCapacity struct {
	Shelf           string    `json:"shelf_location"`
	Section         string    `json:"section"`
	MaxCapacity     int       `json:"max_capacity"`
	CurrentCount    int       `json:"current_count"`
	GenrePreference string    `json:"genre_preference,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Available is the free space, floored at zero.
func (c ShelfCapacity) Available() int {
	if free := c.MaxCapacity - c.CurrentCount; free > 0 {
		return free
	}
	return 0
}

// Utilization is current/max, zero for a zero-capacity row.
func (c ShelfCapacity) Utilization() float64 {
	if c.MaxCapacity <= 0 {
		return 0
	}
	return float64(c.CurrentCount) / float64(c.MaxCapacity)
}

// Fits reports whether quantity units fit in the free space.
func (c ShelfCapacity) Fits(quantity int) bool {
	return c.Available() >= quantity
}

// ProgressCallback receives (completed, total) as work items finish.
type ProgressCallback func(completed, total int)
