// Package postgres is the PostgreSQL core.Store. Capacity changes are single
// conditional statements so concurrent reservations never overbook a section.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/shelver/internal/apperr"
	"github.com/JonMunkholm/shelver/internal/config"
	"github.com/JonMunkholm/shelver/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// Store implements core.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// Open connects a pool configured from cfg, verifies it, and applies the
// schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is required for the postgres store")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("connected to database",
		"database", poolConfig.ConnConfig.Database,
		"max_conns", poolConfig.MaxConns,
		"min_conns", poolConfig.MinConns,
	)
	return s, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

// ---------------------------------------------------------------------------
// Batches and records
// ---------------------------------------------------------------------------

var recordColumns = []string{
	"id", "batch_id", "row_number",
	"isbn", "upc", "asin", "title", "author", "publisher", "description",
	"genre", "format", "pages", "cover_url", "condition", "quantity",
	"preferred_shelf", "preferred_section",
	"processing_status", "assigned_shelf", "assigned_section", "placement_reason",
	"enrichment_source", "enrichment_status", "error_message", "enrichment_attempts",
	"user_image_reference", "created_at", "processed_at",
}

// CreateBatch writes the batch and all of its records in one transaction.
// Either every row lands or none do.
func (s *Store) CreateBatch(ctx context.Context, batch *core.Batch, records []core.Record) error {
	batchID, err := parseID(batch.ID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertBatch(ctx, tx, batch); err != nil {
		return err
	}

	rows := make([][]any, 0, len(records))
	for i := range records {
		rec := &records[i]
		id, err := parseID(rec.ID)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			id, batchID, rec.Row,
			rec.ISBN, rec.UPC, rec.ASIN, rec.Title, rec.Author, rec.Publisher, rec.Description,
			rec.Genre, rec.Format, rec.Pages, rec.CoverURL, rec.Condition, rec.Quantity,
			rec.PreferredShelf, rec.PreferredSection,
			string(rec.Status), rec.AssignedShelf, rec.AssignedSection, string(rec.PlacementReason),
			rec.EnrichmentSource, rec.EnrichmentStatus, rec.ErrorMessage, rec.EnrichmentAttempts,
			rec.ImageRef, rec.CreatedAt, rec.ProcessedAt,
		})
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"incoming_books"}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy records: %w", wrapPg(err))
	}
	if int(n) != len(records) {
		return fmt.Errorf("copy records: wrote %d of %d", n, len(records))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateFailedBatch writes a batch row with no records.
func (s *Store) CreateFailedBatch(ctx context.Context, batch *core.Batch) error {
	if _, err := parseID(batch.ID); err != nil {
		return err
	}
	return insertBatch(ctx, s.pool, batch)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertBatch(ctx context.Context, db execer, batch *core.Batch) error {
	errorLog, err := encodeErrors(batch.ErrorLog)
	if err != nil {
		return err
	}
	id, err := parseID(batch.ID)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO batch_uploads (
			id, filename, total_records, processed_records, successful_records,
			failed_records, status, error_log, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, batch.Filename, batch.TotalRecords, batch.ProcessedRecords, batch.SuccessfulRecords,
		batch.FailedRecords, string(batch.Status), errorLog, batch.CreatedAt, batch.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", wrapPg(err))
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*core.Batch, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "get batch", "batch not found: "+id)
	}

	var (
		b        core.Batch
		status   string
		errorLog []byte
	)
	err = s.pool.QueryRow(ctx, `
		SELECT id::text, filename, total_records, processed_records, successful_records,
		       failed_records, status, error_log, created_at, completed_at
		FROM batch_uploads WHERE id = $1`, uid,
	).Scan(&b.ID, &b.Filename, &b.TotalRecords, &b.ProcessedRecords, &b.SuccessfulRecords,
		&b.FailedRecords, &status, &errorLog, &b.CreatedAt, &b.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "get batch", "batch not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	b.Status = core.Status(status)
	if err := json.Unmarshal(errorLog, &b.ErrorLog); err != nil {
		return nil, fmt.Errorf("decode error log: %w", err)
	}
	return &b, nil
}

// UpdateBatch writes counts, status and completion time. The error log only
// changes through AppendBatchError.
func (s *Store) UpdateBatch(ctx context.Context, batch *core.Batch) error {
	id, err := parseID(batch.ID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE batch_uploads
		SET processed_records = $2, successful_records = $3, failed_records = $4,
		    status = $5, completed_at = $6
		WHERE id = $1`,
		id, batch.ProcessedRecords, batch.SuccessfulRecords, batch.FailedRecords,
		string(batch.Status), batch.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "update batch", "batch not found: "+batch.ID)
	}
	return nil
}

// AppendBatchError appends to error_log in place, so concurrent appends from
// different records never overwrite each other.
func (s *Store) AppendBatchError(ctx context.Context, batchID string, entry core.BatchError) error {
	id, err := parseID(batchID)
	if err != nil {
		return err
	}
	payload, err := encodeErrors([]core.BatchError{entry})
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_uploads SET error_log = error_log || $2::jsonb WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("append batch error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "append batch error", "batch not found: "+batchID)
	}
	return nil
}

const selectRecords = `
	SELECT id::text, batch_id::text, row_number,
	       isbn, upc, asin, title, author, publisher, description,
	       genre, format, pages, cover_url, condition, quantity,
	       preferred_shelf, preferred_section,
	       processing_status, assigned_shelf, assigned_section, placement_reason,
	       enrichment_source, enrichment_status, error_message, enrichment_attempts,
	       user_image_reference, created_at, processed_at
	FROM incoming_books`

func (s *Store) ListRecords(ctx context.Context, filter core.RecordFilter) ([]core.Record, error) {
	query := selectRecords + ` WHERE 1 = 1`
	var args []any
	if filter.BatchID != "" {
		id, err := uuid.Parse(filter.BatchID)
		if err != nil {
			return nil, nil
		}
		args = append(args, id)
		query += fmt.Sprintf(" AND batch_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND processing_status = $%d", len(args))
	}
	query += " ORDER BY created_at, row_number"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.CollectableRow) (core.Record, error) {
	var (
		rec            core.Record
		status, reason string
	)
	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.Row,
		&rec.ISBN, &rec.UPC, &rec.ASIN, &rec.Title, &rec.Author, &rec.Publisher, &rec.Description,
		&rec.Genre, &rec.Format, &rec.Pages, &rec.CoverURL, &rec.Condition, &rec.Quantity,
		&rec.PreferredShelf, &rec.PreferredSection,
		&status, &rec.AssignedShelf, &rec.AssignedSection, &reason,
		&rec.EnrichmentSource, &rec.EnrichmentStatus, &rec.ErrorMessage, &rec.EnrichmentAttempts,
		&rec.ImageRef, &rec.CreatedAt, &rec.ProcessedAt,
	)
	rec.Status = core.Status(status)
	rec.PlacementReason = core.PlacementReason(reason)
	return rec, err
}

func (s *Store) UpdateRecord(ctx context.Context, rec *core.Record) error {
	id, err := parseID(rec.ID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE incoming_books SET
			isbn = $2, upc = $3, asin = $4, title = $5, author = $6, publisher = $7,
			description = $8, genre = $9, format = $10, pages = $11, cover_url = $12,
			condition = $13, quantity = $14,
			processing_status = $15, assigned_shelf = $16, assigned_section = $17,
			placement_reason = $18, enrichment_source = $19, enrichment_status = $20,
			error_message = $21, enrichment_attempts = $22, user_image_reference = $23,
			processed_at = $24
		WHERE id = $1`,
		id, rec.ISBN, rec.UPC, rec.ASIN, rec.Title, rec.Author, rec.Publisher,
		rec.Description, rec.Genre, rec.Format, rec.Pages, rec.CoverURL,
		rec.Condition, rec.Quantity,
		string(rec.Status), rec.AssignedShelf, rec.AssignedSection,
		string(rec.PlacementReason), rec.EnrichmentSource, rec.EnrichmentStatus,
		rec.ErrorMessage, rec.EnrichmentAttempts, rec.ImageRef,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "update record", "record not found: "+rec.ID)
	}
	return nil
}

func (s *Store) CountRecordsByStatus(ctx context.Context, batchID string) (map[core.Status]int, error) {
	counts := make(map[core.Status]int)
	id, err := uuid.Parse(batchID)
	if err != nil {
		return counts, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT processing_status, COUNT(*)
		FROM incoming_books WHERE batch_id = $1
		GROUP BY processing_status`, id)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[core.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) FailOpenRecords(ctx context.Context, batchID, reason string, now time.Time) (int, error) {
	id, err := parseID(batchID)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE incoming_books
		SET processing_status = 'failed', error_message = $2, processed_at = $3
		WHERE batch_id = $1 AND processing_status IN ('pending', 'processing')`,
		id, reason, now)
	if err != nil {
		return 0, fmt.Errorf("fail open records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---------------------------------------------------------------------------
// Capacity ledger
// ---------------------------------------------------------------------------

const capacityColumns = `shelf_location, section, max_capacity, current_count, genre_preference, updated_at`

func scanCapacity(row pgx.Row) (core.ShelfCapacity, error) {
	var c core.ShelfCapacity
	err := row.Scan(&c.Shelf, &c.Section, &c.MaxCapacity, &c.CurrentCount, &c.GenrePreference, &c.UpdatedAt)
	return c, err
}

func collectCapacity(row pgx.CollectableRow) (core.ShelfCapacity, error) {
	return scanCapacity(row)
}

// sectionOrder sorts numeric sections by value and the rest lexically.
const sectionOrder = `shelf_location, length(section), section`

func (s *Store) QueryShelfCapacity(ctx context.Context, shelf, section string) (core.ShelfCapacity, bool, error) {
	c, err := scanCapacity(s.pool.QueryRow(ctx,
		`SELECT `+capacityColumns+` FROM shelf_capacity WHERE shelf_location = $1 AND section = $2`,
		shelf, section))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ShelfCapacity{}, false, nil
	}
	if err != nil {
		return core.ShelfCapacity{}, false, fmt.Errorf("query shelf capacity: %w", err)
	}
	return c, true, nil
}

func (s *Store) ListShelfCapacity(ctx context.Context, shelf string) ([]core.ShelfCapacity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+capacityColumns+` FROM shelf_capacity
		 WHERE $1 = '' OR shelf_location = $1
		 ORDER BY `+sectionOrder, shelf)
	if err != nil {
		return nil, fmt.Errorf("list shelf capacity: %w", err)
	}
	out, err := pgx.CollectRows(rows, collectCapacity)
	if err != nil {
		return nil, fmt.Errorf("scan shelf capacity: %w", err)
	}
	return out, nil
}

func (s *Store) FindGenreShelves(ctx context.Context, genre string, quantity int) ([]core.ShelfCapacity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+capacityColumns+` FROM shelf_capacity
		 WHERE genre_preference <> '' AND lower(genre_preference) = lower($1)
		   AND current_count + $2 <= max_capacity
		 ORDER BY current_count, `+sectionOrder, genre, quantity)
	if err != nil {
		return nil, fmt.Errorf("find genre shelves: %w", err)
	}
	out, err := pgx.CollectRows(rows, collectCapacity)
	if err != nil {
		return nil, fmt.Errorf("scan genre shelves: %w", err)
	}
	return out, nil
}

// CreateShelfCapacity inserts the row or returns the existing one. A genre is
// only attached to an existing row that is still empty and has none.
func (s *Store) CreateShelfCapacity(ctx context.Context, in core.ShelfCapacity) (core.ShelfCapacity, error) {
	c, err := scanCapacity(s.pool.QueryRow(ctx, `
		INSERT INTO shelf_capacity (shelf_location, section, max_capacity, genre_preference)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (shelf_location, section) DO UPDATE SET genre_preference =
			CASE WHEN shelf_capacity.genre_preference = '' AND shelf_capacity.current_count = 0
			     THEN EXCLUDED.genre_preference
			     ELSE shelf_capacity.genre_preference END
		RETURNING `+capacityColumns,
		in.Shelf, in.Section, in.MaxCapacity, in.GenrePreference))
	if err != nil {
		return core.ShelfCapacity{}, fmt.Errorf("create shelf capacity: %w", wrapPg(err))
	}
	return c, nil
}

// UpsertShelfCapacity applies delta unconditionally, clamping at zero.
func (s *Store) UpsertShelfCapacity(ctx context.Context, shelf, section string, maxCapacity, delta int) (core.ShelfCapacity, error) {
	c, err := scanCapacity(s.pool.QueryRow(ctx, `
		INSERT INTO shelf_capacity (shelf_location, section, max_capacity, current_count)
		VALUES ($1, $2, $3, GREATEST($4::int, 0))
		ON CONFLICT (shelf_location, section) DO UPDATE SET
			current_count = GREATEST(shelf_capacity.current_count + $4::int, 0),
			updated_at = now()
		RETURNING `+capacityColumns,
		shelf, section, maxCapacity, delta))
	if err != nil {
		return core.ShelfCapacity{}, fmt.Errorf("upsert shelf capacity: %w", wrapPg(err))
	}
	return c, nil
}

// ReserveShelfCapacity adds delta only while the row stays within
// max_capacity. The check and the increment are one UPDATE, so the row lock
// serializes competing reservations.
func (s *Store) ReserveShelfCapacity(ctx context.Context, shelf, section string, maxCapacity, delta int) (core.ShelfCapacity, bool, error) {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO shelf_capacity (shelf_location, section, max_capacity)
		VALUES ($1, $2, $3)
		ON CONFLICT (shelf_location, section) DO NOTHING`,
		shelf, section, maxCapacity); err != nil {
		return core.ShelfCapacity{}, false, fmt.Errorf("ensure shelf capacity: %w", wrapPg(err))
	}

	c, err := scanCapacity(s.pool.QueryRow(ctx, `
		UPDATE shelf_capacity
		SET current_count = current_count + $3::int, updated_at = now()
		WHERE shelf_location = $1 AND section = $2 AND current_count + $3::int <= max_capacity
		RETURNING `+capacityColumns,
		shelf, section, delta))
	if errors.Is(err, pgx.ErrNoRows) {
		current, _, qerr := s.QueryShelfCapacity(ctx, shelf, section)
		return current, false, qerr
	}
	if err != nil {
		return core.ShelfCapacity{}, false, fmt.Errorf("reserve shelf capacity: %w", err)
	}
	return c, true, nil
}

func (s *Store) NextSectionFor(ctx context.Context, shelf string) (string, int, error) {
	var highest, count int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(CASE WHEN section ~ '^[0-9]+$' THEN section::int END), 0)::int,
		       COUNT(*)::int
		FROM shelf_capacity WHERE shelf_location = $1`, shelf,
	).Scan(&highest, &count)
	if err != nil {
		return "", 0, fmt.Errorf("next section: %w", err)
	}
	return fmt.Sprintf("%02d", highest+1), count, nil
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// UpsertCatalogItem replaces the descriptive fields and adds the quantity
// when the key already exists.
func (s *Store) UpsertCatalogItem(ctx context.Context, item core.CatalogItem) (core.CatalogItem, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO catalog_items (
			key, isbn, upc, asin, title, author, publisher, description, genre, format,
			pages, cover_url, condition, quantity, shelf_location, section, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (key) DO UPDATE SET
			isbn = EXCLUDED.isbn, upc = EXCLUDED.upc, asin = EXCLUDED.asin,
			title = EXCLUDED.title, author = EXCLUDED.author, publisher = EXCLUDED.publisher,
			description = EXCLUDED.description, genre = EXCLUDED.genre, format = EXCLUDED.format,
			pages = EXCLUDED.pages, cover_url = EXCLUDED.cover_url, condition = EXCLUDED.condition,
			quantity = catalog_items.quantity + EXCLUDED.quantity,
			shelf_location = EXCLUDED.shelf_location, section = EXCLUDED.section,
			updated_at = EXCLUDED.updated_at
		RETURNING quantity`,
		item.Key, item.ISBN, item.UPC, item.ASIN, item.Title, item.Author, item.Publisher,
		item.Description, item.Genre, item.Format, item.Pages, item.CoverURL, item.Condition,
		item.Quantity, item.Shelf, item.Section, item.UpdatedAt,
	).Scan(&item.Quantity)
	if err != nil {
		return core.CatalogItem{}, fmt.Errorf("upsert catalog item: %w", wrapPg(err))
	}
	return item, nil
}

func (s *Store) GetCatalogItem(ctx context.Context, key string) (core.CatalogItem, bool, error) {
	var item core.CatalogItem
	err := s.pool.QueryRow(ctx, `
		SELECT key, isbn, upc, asin, title, author, publisher, description, genre, format,
		       pages, cover_url, condition, quantity, shelf_location, section, updated_at
		FROM catalog_items WHERE key = $1`, key,
	).Scan(&item.Key, &item.ISBN, &item.UPC, &item.ASIN, &item.Title, &item.Author,
		&item.Publisher, &item.Description, &item.Genre, &item.Format, &item.Pages,
		&item.CoverURL, &item.Condition, &item.Quantity, &item.Shelf, &item.Section, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.CatalogItem{}, false, nil
	}
	if err != nil {
		return core.CatalogItem{}, false, fmt.Errorf("get catalog item: %w", err)
	}
	return item, true, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, apperr.E(apperr.KindValidation, "parse id", fmt.Errorf("invalid id %q: %w", id, err))
	}
	return uid, nil
}

func encodeErrors(entries []core.BatchError) ([]byte, error) {
	if entries == nil {
		entries = []core.BatchError{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode error log: %w", err)
	}
	return b, nil
}

// wrapPg rewrites unique violations so MapError reports them as duplicates.
func wrapPg(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("duplicate key: %s: %w", pgErr.ConstraintName, err)
	}
	return err
}
