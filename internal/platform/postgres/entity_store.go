package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/store"
)

// DefaultUpsertChunkSize bounds the rows sent in one INSERT statement.
const DefaultUpsertChunkSize = 500

// entityColumns is the insert column order; keep in sync with appendEntityArgs.
var entityColumns = []string{
	"external_id", "screen_name", "display_name", "is_closed", "entity_type",
	"members_count", "photo_url", "description", "status", "task_id",
	"fetched_at", "uploaded_at", "processed_at", "updated_at",
}

// maxBindParams is the Postgres limit on parameters in one statement.
const maxBindParams = 65535

// MaxUpsertChunkSize is the largest chunk whose INSERT stays within
// maxBindParams.
var MaxUpsertChunkSize = maxBindParams / len(entityColumns)

const selectEntityColumns = `external_id, screen_name, display_name, is_closed, entity_type,
	members_count, photo_url, description, status, task_id,
	fetched_at, uploaded_at, processed_at, updated_at`

// The WHERE clause drops stale writes; the CASE keeps an invalid row invalid
// unless the incoming data is strictly newer. RETURNING only yields rows that
// were written, and xmax = 0 marks a fresh insert.
const upsertConflictClause = `
ON CONFLICT (external_id) DO UPDATE SET
	screen_name = EXCLUDED.screen_name,
	display_name = EXCLUDED.display_name,
	is_closed = EXCLUDED.is_closed,
	entity_type = EXCLUDED.entity_type,
	members_count = EXCLUDED.members_count,
	photo_url = EXCLUDED.photo_url,
	description = EXCLUDED.description,
	status = CASE
		WHEN entities.status = 'invalid' AND EXCLUDED.status = 'valid'
			AND EXCLUDED.fetched_at <= entities.fetched_at
		THEN entities.status
		ELSE EXCLUDED.status
	END,
	task_id = EXCLUDED.task_id,
	fetched_at = EXCLUDED.fetched_at,
	processed_at = EXCLUDED.processed_at,
	updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.fetched_at >= entities.fetched_at
RETURNING (xmax = 0) AS inserted`

// EntityStore implements store.EntityRepository on the entities table.
type EntityStore struct {
	db        *sql.DB
	logger    *slog.Logger
	chunkSize int
	now       func() time.Time
}

// EntityStoreOption customizes an EntityStore.
type EntityStoreOption func(*EntityStore)

// WithUpsertChunkSize sets how many rows go into one statement, clamped to
// MaxUpsertChunkSize.
func WithUpsertChunkSize(n int) EntityStoreOption {
	return func(s *EntityStore) {
		if n > 0 {
			s.chunkSize = min(n, MaxUpsertChunkSize)
		}
	}
}

// WithEntityClock overrides the clock used for row timestamps.
func WithEntityClock(now func() time.Time) EntityStoreOption {
	return func(s *EntityStore) { s.now = now }
}

// NewEntityStore creates an EntityStore. If logger is nil, slog.Default() is used.
func NewEntityStore(db *sql.DB, logger *slog.Logger, opts ...EntityStoreOption) *EntityStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &EntityStore{
		db:        db,
		logger:    logger.With(slog.String("component", "entity_store")),
		chunkSize: DefaultUpsertChunkSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.EntityRepository = (*EntityStore)(nil)

// UpsertMany implements store.EntityRepository.UpsertMany. All statements of
// one call run in a single transaction.
func (s *EntityStore) UpsertMany(ctx context.Context, entities []domain.ResolvedEntity, taskID string) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	if len(entities) == 0 {
		return result, nil
	}

	rows, dupes := dedupeLatest(entities, taskID, s.now())
	result.Skipped = dupes

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for start := 0; start < len(rows); start += s.chunkSize {
			end := min(start+s.chunkSize, len(rows))
			part, err := s.upsertChunk(ctx, tx, rows[start:end])
			if err != nil {
				return err
			}
			result.Add(part)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("entity upsert failed", "task_id", taskID, "rows", len(rows), "error", err)
		return domain.UpsertResult{}, domain.NewStorageError("entity.upsert", err)
	}
	return result, nil
}

func (s *EntityStore) upsertChunk(ctx context.Context, tx store.DBTX, rows []domain.PersistedEntity) (domain.UpsertResult, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO entities (")
	b.WriteString(strings.Join(entityColumns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(entityColumns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range entityColumns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+c+1)
		}
		b.WriteString(")")
		args = appendEntityArgs(args, row)
	}
	b.WriteString(upsertConflictClause)

	res, err := tx.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return domain.UpsertResult{}, MapError(err)
	}
	defer func() { _ = res.Close() }()

	var out domain.UpsertResult
	for res.Next() {
		var inserted bool
		if err := res.Scan(&inserted); err != nil {
			return domain.UpsertResult{}, err
		}
		if inserted {
			out.Inserted++
		} else {
			out.Updated++
		}
	}
	if err := res.Err(); err != nil {
		return domain.UpsertResult{}, MapError(err)
	}
	out.Skipped = len(rows) - out.Inserted - out.Updated
	return out, nil
}

func appendEntityArgs(args []any, e domain.PersistedEntity) []any {
	return append(args,
		e.ExternalID, e.ScreenName, e.DisplayName, e.Closed, e.EntityType,
		e.MembersCount, e.PhotoURL, e.Description, string(e.Status), e.TaskID,
		e.FetchedAt, e.UploadedAt, e.ProcessedAt, e.UpdatedAt,
	)
}

// dedupeLatest keeps one row per external id and reports how many were
// dropped. The later copy wins unless it carries older data. Order of first
// appearance is kept so statements are deterministic.
func dedupeLatest(entities []domain.ResolvedEntity, taskID string, now time.Time) ([]domain.PersistedEntity, int) {
	index := make(map[int64]int, len(entities))
	rows := make([]domain.PersistedEntity, 0, len(entities))
	dupes := 0
	for _, e := range entities {
		row := e.ToPersisted(taskID, now)
		if i, ok := index[row.ExternalID]; ok {
			dupes++
			if !row.FetchedAt.Before(rows[i].FetchedAt) {
				rows[i] = row
			}
			continue
		}
		index[row.ExternalID] = len(rows)
		rows = append(rows, row)
	}
	return rows, dupes
}

// Exists implements store.EntityRepository.Exists.
func (s *EntityStore) Exists(ctx context.Context, externalID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM entities WHERE external_id = $1)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, domain.NewStorageError("entity.exists", MapError(err))
	}
	return exists, nil
}

// ExistsMany implements store.EntityRepository.ExistsMany.
func (s *EntityStore) ExistsMany(ctx context.Context, externalIDs []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(externalIDs))
	if len(externalIDs) == 0 {
		return found, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM entities WHERE external_id = ANY($1)`, externalIDs,
	)
	if err != nil {
		return nil, domain.NewStorageError("entity.exists_many", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewStorageError("entity.exists_many", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("entity.exists_many", err)
	}
	return found, nil
}

// ListByTask implements store.EntityRepository.ListByTask.
func (s *EntityStore) ListByTask(ctx context.Context, taskID string, filter domain.EntityFilter, page domain.Page) ([]domain.PersistedEntity, int, error) {
	where := `WHERE task_id = $1`
	args := []any{taskID}
	if filter.Status != "" {
		where += ` AND status = $2`
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities `+where, args...).Scan(&total); err != nil {
		return nil, 0, domain.NewStorageError("entity.list", MapError(err))
	}
	if total == 0 {
		return []domain.PersistedEntity{}, 0, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM entities %s ORDER BY external_id LIMIT $%d OFFSET $%d`,
		selectEntityColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, 0, domain.NewStorageError("entity.list", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.PersistedEntity, 0, page.Limit)
	for rows.Next() {
		var e domain.PersistedEntity
		var status string
		if err := rows.Scan(
			&e.ExternalID, &e.ScreenName, &e.DisplayName, &e.Closed, &e.EntityType,
			&e.MembersCount, &e.PhotoURL, &e.Description, &status, &e.TaskID,
			&e.FetchedAt, &e.UploadedAt, &e.ProcessedAt, &e.UpdatedAt,
		); err != nil {
			return nil, 0, domain.NewStorageError("entity.list", err)
		}
		e.Status = domain.EntityStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.NewStorageError("entity.list", err)
	}
	return out, total, nil
}
