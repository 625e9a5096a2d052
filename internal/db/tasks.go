package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Task queues. A queue is a strict FIFO keyed by create_date; payloads point
// to files by path, never inline bytes.
const (
	QueueImage  = "image"
	QueueVideo  = "video"
	QueueUpload = "upload"
)

// Task states. Transitions are QUEUED -> RUNNING -> {SUCCESS, FAILED};
// EXPIRED is applied only by the sweeper to stale RUNNING rows.
const (
	StateQueued  = "QUEUED"
	StateRunning = "RUNNING"
	StateSuccess = "SUCCESS"
	StateFailed  = "FAILED"
	StateExpired = "EXPIRED"
)

// Task is one durable work item.
type Task struct {
	ID         int64
	CreateDate time.Time
	Queue      string
	State      string
	Data       string
	Result     string
}

// Enqueue appends a task to the named queue. Data is an opaque JSON payload.
func (db *DB) Enqueue(ctx context.Context, queue, data string) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO tasks (create_date, queue, state, data) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), queue, StateQueued, data)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s task: %w", queue, err)
	}
	return res.LastInsertId()
}

// Dequeue claims the oldest QUEUED task in the named queue, transitioning it
// to RUNNING. Returns nil with no error when the queue is empty. The claim is
// a compare-and-set on state so two workers can never run the same task.
func (db *DB) Dequeue(ctx context.Context, queue string) (*Task, error) {
	for {
		t := &Task{Queue: queue}
		err := db.QueryRowContext(ctx, `
			SELECT id, create_date, state, data, result
			FROM tasks
			WHERE queue = ? AND state = ?
			ORDER BY create_date ASC, id ASC
			LIMIT 1`, queue, StateQueued,
		).Scan(&t.ID, &t.CreateDate, &t.State, &t.Data, &t.Result)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select next %s task: %w", queue, err)
		}

		res, err := db.ExecContext(ctx,
			`UPDATE tasks SET state = ?, start_date = ? WHERE id = ? AND state = ?`,
			StateRunning, time.Now().UTC(), t.ID, StateQueued)
		if err != nil {
			return nil, fmt.Errorf("claim task %d: %w", t.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			t.State = StateRunning
			return t, nil
		}
		// Another worker claimed it between the select and the update;
		// go around again.
	}
}

// Finish moves a RUNNING task to SUCCESS or FAILED with a short result string.
func (db *DB) Finish(ctx context.Context, id int64, ok bool, result string) error {
	state := StateSuccess
	if !ok {
		state = StateFailed
	}
	if len(result) > 1024 {
		result = result[:1024]
	}
	res, err := db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, result = ? WHERE id = ? AND state = ?`,
		state, result, id, StateRunning)
	if err != nil {
		return fmt.Errorf("finish task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("finish task %d: not RUNNING", id)
	}
	return nil
}

// ExpireStale moves RUNNING tasks older than age to EXPIRED and returns the
// number of rows swept.
func (db *DB) ExpireStale(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, result = 'expired by sweeper'
		 WHERE state = ? AND start_date < ?`,
		StateExpired, StateRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// TaskByID fetches a single task row, for tests and the monitor endpoints.
func (db *DB) TaskByID(ctx context.Context, id int64) (*Task, error) {
	t := &Task{ID: id}
	err := db.QueryRowContext(ctx,
		`SELECT create_date, queue, state, data, result FROM tasks WHERE id = ?`, id,
	).Scan(&t.CreateDate, &t.Queue, &t.State, &t.Data, &t.Result)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	return t, nil
}

// QueueDepth returns the number of QUEUED rows in the named queue.
func (db *DB) QueueDepth(ctx context.Context, queue string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE queue = ? AND state = ?`,
		queue, StateQueued).Scan(&n)
	return n, err
}
