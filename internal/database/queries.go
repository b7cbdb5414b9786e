package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"tasknode/internal/gmp"
	"tasknode/internal/metrics"
	"tasknode/internal/models"
	"tasknode/internal/tasks"
)

var ErrNotViewCall = errors.New("task is not a view call")

func observe(queryType string, start time.Time) {
	metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
}

// ==================== Event Indexing ====================

// Name identifies the indexer to the event relay
func (db *DB) Name() string {
	return "postgres"
}

// eventRows flattens a batch of engine events into table rows
func eventRows(events []tasks.Event) ([]models.TaskEventRecord, []models.GmpMessageRecord, error) {
	records := make([]models.TaskEventRecord, 0, len(events))
	var messages []models.GmpMessageRecord

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode %s event: %w", ev.Kind, err)
		}
		records = append(records, models.TaskEventRecord{
			Kind:    string(ev.Kind),
			Height:  int64(ev.Height),
			TaskID:  toNullInt64(ev.TaskID),
			Network: toNullInt32(ev.Network),
			Data:    data,
		})

		if ev.Kind != tasks.EventTaskResult || ev.Result == nil || ev.TaskID == nil {
			continue
		}
		for _, msg := range ev.Result.Payload.Messages {
			messages = append(messages, models.GmpMessageRecord{
				MessageID:   gmp.MessageID(msg).Hex(),
				TaskID:      int64(*ev.TaskID),
				SrcNetwork:  int32(msg.SrcNetwork),
				DestNetwork: int32(msg.DestNetwork),
				Src:         msg.Src.Hex(),
				Dest:        msg.Dest.Hex(),
				Nonce:       int64(msg.Nonce),
				GasLimit:    int64(msg.GasLimit),
				Data:        msg.Data,
			})
		}
	}

	return records, messages, nil
}

// HandleEvents stores a batch of committed engine events in one transaction
func (db *DB) HandleEvents(ctx context.Context, events []tasks.Event) error {
	defer observe("insert_events", time.Now())

	records, messages, err := eventRows(events)
	if err != nil {
		return err
	}

	return db.InTransaction(func(tx *sqlx.Tx) error {
		for _, rec := range records {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO task_events (kind, height, task_id, network, data)
				VALUES ($1, $2, $3, $4, $5)
			`, rec.Kind, rec.Height, rec.TaskID, rec.Network, []byte(rec.Data))
			if err != nil {
				return fmt.Errorf("failed to insert %s event: %w", rec.Kind, err)
			}
		}

		for _, msg := range messages {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO gmp_messages
					(message_id, task_id, src_network, dest_network, src, dest, nonce, gas_limit, data)
				VALUES
					(:message_id, :task_id, :src_network, :dest_network, :src, :dest, :nonce, :gas_limit, :data)
				ON CONFLICT (message_id) DO NOTHING
			`, msg)
			if err != nil {
				return fmt.Errorf("failed to insert message %s: %w", msg.MessageID, err)
			}
		}

		return nil
	})
}

// GetTaskEvents retrieves every indexed event of a task in commit order
func (db *DB) GetTaskEvents(ctx context.Context, id models.TaskID) ([]models.TaskEventRecord, error) {
	defer observe("select_events", time.Now())

	var events []models.TaskEventRecord
	query := `
		SELECT id, kind, height, task_id, network, data, created_at
		FROM task_events
		WHERE task_id = $1
		ORDER BY id
	`
	err := db.SelectContext(ctx, &events, query, int64(id))
	return events, err
}

// ==================== View Results ====================

// RecordViewResult stores the raw output of a view call read
func (db *DB) RecordViewResult(ctx context.Context, task models.Task, output []byte) error {
	defer observe("insert_view_result", time.Now())

	call, ok := task.Function.(models.EvmViewCall)
	if !ok {
		return ErrNotViewCall
	}

	query := `
		INSERT INTO view_results (task_id, network, address, height, output)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO UPDATE SET output = EXCLUDED.output, height = EXCLUDED.height
	`
	_, err := db.ExecContext(ctx, query,
		int64(task.ID), int32(task.Network), call.Address.Hex(), int64(task.Start), output)
	return err
}

// GetViewResult retrieves the raw output of a view call
func (db *DB) GetViewResult(ctx context.Context, id models.TaskID) (*models.ViewResultRecord, error) {
	defer observe("select_view_result", time.Now())

	var result models.ViewResultRecord
	query := `
		SELECT task_id, network, address, height, output, created_at
		FROM view_results
		WHERE task_id = $1
	`
	err := db.GetContext(ctx, &result, query, int64(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &result, err
}

// ==================== Messages ====================

// GetGmpMessages retrieves the most recent messages bound for a network
func (db *DB) GetGmpMessages(ctx context.Context, destNetwork models.Network, limit int) ([]models.GmpMessageRecord, error) {
	defer observe("select_messages", time.Now())

	if limit <= 0 {
		limit = 100
	}

	var messages []models.GmpMessageRecord
	query := `
		SELECT message_id, task_id, src_network, dest_network, src, dest, nonce, gas_limit, data, created_at
		FROM gmp_messages
		WHERE dest_network = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	err := db.SelectContext(ctx, &messages, query, int32(destNetwork), limit)
	return messages, err
}
