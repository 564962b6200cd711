package core

import (
	"context"
	"time"
)

// RecordFilter narrows ListRecords. Zero fields match everything.
type RecordFilter struct {
	BatchID string
	Status  Status
	Limit   int
}

// BatchStore persists batches and their records.
type BatchStore interface {
	// CreateBatch writes the batch row and every record in one transaction.
	// Either all rows exist afterwards or none do.
	CreateBatch(ctx context.Context, batch *Batch, records []Record) error
	// CreateFailedBatch persists a terminal batch shell without records.
	CreateFailedBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	UpdateBatch(ctx context.Context, batch *Batch) error
	AppendBatchError(ctx context.Context, batchID string, entry BatchError) error

	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	UpdateRecord(ctx context.Context, rec *Record) error
	CountRecordsByStatus(ctx context.Context, batchID string) (map[Status]int, error)
	// FailOpenRecords marks every pending or processing record of the batch
	// failed and returns how many were changed.
	FailOpenRecords(ctx context.Context, batchID, reason string, now time.Time) (int, error)
}

// CapacityStore persists the shelf capacity ledger. All count changes are
// single atomic statements; callers never read-modify-write.
type CapacityStore interface {
	QueryShelfCapacity(ctx context.Context, shelf, section string) (ShelfCapacity, bool, error)
	// ListShelfCapacity lists rows ordered by shelf then section. An empty
	// shelf lists every row.
	ListShelfCapacity(ctx context.Context, shelf string) ([]ShelfCapacity, error)
	// FindGenreShelves lists rows preferring genre (case-insensitive) with
	// room for quantity, ordered by current count, shelf and section.
	FindGenreShelves(ctx context.Context, genre string, quantity int) ([]ShelfCapacity, error)
	// CreateShelfCapacity inserts a row unless it exists and returns the
	// stored row either way.
	CreateShelfCapacity(ctx context.Context, row ShelfCapacity) (ShelfCapacity, error)
	// UpsertShelfCapacity adds delta unconditionally, creating the row with
	// maxCapacity when absent. The count is clamped at zero.
	UpsertShelfCapacity(ctx context.Context, shelf, section string, maxCapacity, delta int) (ShelfCapacity, error)
	// ReserveShelfCapacity adds delta only if the result stays within
	// max_capacity, creating an empty row with maxCapacity when absent.
	ReserveShelfCapacity(ctx context.Context, shelf, section string, maxCapacity, delta int) (ShelfCapacity, bool, error)
	// NextSectionFor returns the section after the highest numeric section of
	// shelf ("01" for a new shelf) and the number of sections it has.
	NextSectionFor(ctx context.Context, shelf string) (string, int, error)
}

// CatalogItem is one catalog entry; duplicate identifiers fold into one row.
type CatalogItem struct {
	Key         string    `json:"key"`
	ISBN        string    `json:"isbn,omitempty"`
	UPC         string    `json:"upc,omitempty"`
	ASIN        string    `json:"asin,omitempty"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	Publisher   string    `json:"publisher,omitempty"`
	Description string    `json:"description,omitempty"`
	Genre       string    `json:"genre,omitempty"`
	Format      string    `json:"format,omitempty"`
	Pages       int       `json:"pages,omitempty"`
	CoverURL    string    `json:"cover_url,omitempty"`
	Condition   string    `json:"condition"`
	Quantity    int       `json:"quantity"`
	Shelf       string    `json:"shelf_location"`
	Section     string    `json:"section"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CatalogStore persists catalog items.
type CatalogStore interface {
	// UpsertCatalogItem inserts item or, when Key exists, adds its quantity
	// and overwrites the descriptive fields and location.
	UpsertCatalogItem(ctx context.Context, item CatalogItem) (CatalogItem, error)
	GetCatalogItem(ctx context.Context, key string) (CatalogItem, bool, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	BatchStore
	CapacityStore
	CatalogStore
	Ping(ctx context.Context) error
	Close()
}

// CatalogKey picks the catalog identity for a record: ISBN, then UPC, then
// ASIN, falling back to the record id.
func CatalogKey(rec *Record) string {
	switch {
	case rec.ISBN != "":
		return "isbn:" + rec.ISBN
	case rec.UPC != "":
		return "upc:" + rec.UPC
	case rec.ASIN != "":
		return "asin:" + rec.ASIN
	}
	return "record:" + rec.ID
}
