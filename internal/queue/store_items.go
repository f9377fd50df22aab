package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"conveyor/internal/database"
)

var itemColumns = []string{
	"id", "owner_id", "source_json", "status", "current_stage", "payloads", "stage_history",
	"revision_json", "parent_item_id", "total_cost", "error_stage", "error_message", "retry_count",
	"completed_at", "total_processing_ms", "version", "last_heartbeat", "created_at", "updated_at",
}

var itemSelect = "SELECT " + strings.Join(itemColumns, ", ") + " FROM items"

func scanItem(scanner rowScanner) (*Item, error) {
	var (
		item         Item
		sourceJSON   string
		status       string
		stage        int
		payloadsJSON string
		historyJSON  string
		revisionJSON sql.NullString
		parentID     sql.NullInt64
		errorStage   sql.NullInt64
		errorMessage sql.NullString
		completedRaw sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&item.ID,
		&item.OwnerID,
		&sourceJSON,
		&status,
		&stage,
		&payloadsJSON,
		&historyJSON,
		&revisionJSON,
		&parentID,
		&item.TotalCost,
		&errorStage,
		&errorMessage,
		&item.RetryCount,
		&completedRaw,
		&item.TotalProcessingMs,
		&item.Version,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	item.Status = Status(status)
	item.CurrentStage = Stage(stage)
	if err := decodeJSON(sourceJSON, &item.Source); err != nil {
		return nil, fmt.Errorf("item %d source: %w", item.ID, err)
	}
	if err := decodeJSON(payloadsJSON, &item.Payloads); err != nil {
		return nil, fmt.Errorf("item %d payloads: %w", item.ID, err)
	}
	if err := decodeJSON(historyJSON, &item.History); err != nil {
		return nil, fmt.Errorf("item %d history: %w", item.ID, err)
	}
	if revisionJSON.Valid && revisionJSON.String != "" {
		item.Revision = &RevisionContext{}
		if err := decodeJSON(revisionJSON.String, item.Revision); err != nil {
			return nil, fmt.Errorf("item %d revision: %w", item.ID, err)
		}
	}
	if parentID.Valid {
		id := parentID.Int64
		item.ParentItemID = &id
	}
	if errorStage.Valid {
		item.ErrorStage = Stage(errorStage.Int64)
	}
	item.ErrorMessage = errorMessage.String
	item.CompletedAt = database.ParseNullTime(completedRaw)
	item.LastHeartbeat = database.ParseNullTime(heartbeatRaw)
	item.CreatedAt = parseTime(createdRaw)
	item.UpdatedAt = parseTime(updatedRaw)
	return &item, nil
}

// NewItem describes an item to insert.
type NewItem struct {
	OwnerID      string
	Source       SourceData
	StartStage   Stage
	Payloads     Payloads
	History      []StageHistoryEntry
	Revision     *RevisionContext
	ParentItemID *int64
}

// InsertItemTx inserts a processing item inside tx and returns its id.
func (s *Store) InsertItemTx(ctx context.Context, tx *sql.Tx, item NewItem) (int64, error) {
	if strings.TrimSpace(item.OwnerID) == "" {
		return 0, errors.New("insert item: owner id is required")
	}
	if item.StartStage == 0 {
		item.StartStage = FirstStage
	}
	if !item.StartStage.Valid() {
		return 0, fmt.Errorf("insert item: invalid start stage %d", item.StartStage)
	}
	sourceJSON, err := encodeJSON(item.Source)
	if err != nil {
		return 0, err
	}
	payloadsJSON, err := encodeJSON(item.Payloads)
	if err != nil {
		return 0, err
	}
	history := item.History
	if history == nil {
		history = []StageHistoryEntry{}
	}
	historyJSON, err := encodeJSON(history)
	if err != nil {
		return 0, err
	}
	var revision any
	if item.Revision != nil {
		raw, err := encodeJSON(item.Revision)
		if err != nil {
			return 0, err
		}
		revision = raw
	}
	now := database.FormatTime(s.now())
	res, err := tx.ExecContext(ctx,
		`INSERT INTO items (
            owner_id, source_type, source_item_id, source_json, status, current_stage,
            payloads, stage_history, revision_json, parent_item_id, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.OwnerID,
		item.Source.SourceType,
		item.Source.SourceItemID,
		sourceJSON,
		StatusProcessing,
		int(item.StartStage),
		payloadsJSON,
		historyJSON,
		revision,
		nullableInt64(item.ParentItemID),
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// GetItem fetches an item by id. A missing item returns (nil, nil).
func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	return getItem(ensureContext(ctx), s.sql(), id)
}

func getItem(ctx context.Context, q dbtx, id int64) (*Item, error) {
	row := q.QueryRowContext(ctx, itemSelect+" WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListFilter narrows item listings. Zero values do not filter.
type ListFilter struct {
	OwnerID      string
	Statuses     []Status
	Stage        Stage
	ParentItemID int64
	Limit        uint64
}

// List returns items matching filter, oldest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Item, error) {
	ctx = ensureContext(ctx)
	query := sq.Select(itemColumns...).From("items").OrderBy("created_at", "id")
	if filter.OwnerID != "" {
		query = query.Where(sq.Eq{"owner_id": filter.OwnerID})
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			values[i] = string(status)
		}
		query = query.Where(sq.Eq{"status": values})
	}
	if filter.Stage.Valid() {
		query = query.Where(sq.Eq{"current_stage": int(filter.Stage)})
	}
	if filter.ParentItemID > 0 {
		query = query.Where(sq.Eq{"parent_item_id": filter.ParentItemID})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	rows, err := s.sql().QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
