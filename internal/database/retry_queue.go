package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ridesched/internal/models"
)

// LoadQueue reads the whole queue snapshot in enqueue order.
func (db *DB) LoadQueue(ctx context.Context) ([]models.QueueItem, error) {
	query := `SELECT id, type, calendar_id, ride_url, ride_title, row_num, user_email, params,
                     enqueued_at, attempt_count, next_retry_at, last_error
              FROM retry_queue ORDER BY position ASC`
	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load retry queue: %w", err)
	}
	defer rows.Close()

	items := []models.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate retry queue: %w", err)
	}
	return items, nil
}

// SaveQueue replaces the stored snapshot with items in one transaction.
func (db *DB) SaveQueue(ctx context.Context, items []models.QueueItem) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM retry_queue`); err != nil {
		return fmt.Errorf("failed to clear retry queue: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO retry_queue
        (id, position, type, calendar_id, ride_url, ride_title, row_num, user_email, params,
         enqueued_at, attempt_count, next_retry_at, last_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		var nextRetry sql.NullInt64
		if item.NextRetryAt != nil {
			nextRetry = sql.NullInt64{Int64: item.NextRetryAt.UnixMilli(), Valid: true}
		}
		var params sql.NullString
		if len(item.Params) > 0 {
			params = sql.NullString{String: string(item.Params), Valid: true}
		}

		if _, err = stmt.ExecContext(ctx,
			item.ID,
			i,
			string(item.Type),
			item.CalendarID,
			item.RideURL,
			item.RideTitle,
			item.RowNum,
			item.UserEmail,
			params,
			item.EnqueuedAt.UnixMilli(),
			item.AttemptCount,
			nextRetry,
			item.LastError,
		); err != nil {
			return fmt.Errorf("failed to insert queue item %s: %w", item.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit retry queue: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (models.QueueItem, error) {
	var (
		item       models.QueueItem
		opType     string
		calendarID sql.NullString
		rideTitle  sql.NullString
		rowNum     sql.NullInt64
		userEmail  sql.NullString
		params     sql.NullString
		enqueuedAt int64
		nextRetry  sql.NullInt64
		lastError  sql.NullString
	)

	if err := row.Scan(
		&item.ID, &opType, &calendarID, &item.RideURL, &rideTitle, &rowNum, &userEmail, &params,
		&enqueuedAt, &item.AttemptCount, &nextRetry, &lastError,
	); err != nil {
		return models.QueueItem{}, err
	}

	item.Type = models.OperationType(opType)
	item.CalendarID = calendarID.String
	item.RideTitle = rideTitle.String
	item.RowNum = int(rowNum.Int64)
	item.UserEmail = userEmail.String
	item.LastError = lastError.String
	item.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	if params.Valid && params.String != "" {
		item.Params = json.RawMessage(params.String)
	}
	if nextRetry.Valid {
		next := time.UnixMilli(nextRetry.Int64).UTC()
		item.NextRetryAt = &next
	}
	return item, nil
}
