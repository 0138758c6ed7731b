package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskDone       = "DONE"
)

type ProductionTask struct {
	ID           int64           `json:"id"`
	OrderID      int64           `json:"order_id"`
	MaterialID   int64           `json:"material_id"`
	QtyToProduce decimal.Decimal `json:"qty_to_produce"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

const taskSelectCols = `id, order_id, material_id, qty_to_produce, status, created_at, updated_at, started_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*ProductionTask, error) {
	var t ProductionTask
	var createdAt, updatedAt, startedAt, completedAt any
	err := row.Scan(&t.ID, &t.OrderID, &t.MaterialID, scanQty(&t.QtyToProduce), &t.Status,
		&createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.StartedAt = parseTimePtr(startedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*ProductionTask, error) {
	var tasks []*ProductionTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (q *Queries) GetTask(ctx context.Context, id int64) (*ProductionTask, error) {
	return q.getTask(ctx, id, "")
}

// GetTaskForUpdate is GetTask with the task row locked.
func (q *Queries) GetTaskForUpdate(ctx context.Context, id int64) (*ProductionTask, error) {
	return q.getTask(ctx, id, q.dialect.ForUpdate())
}

func (q *Queries) getTask(ctx context.Context, id int64, suffix string) (*ProductionTask, error) {
	row := q.queryRow(ctx, fmt.Sprintf(`SELECT %s FROM production_tasks WHERE id=?`, taskSelectCols)+suffix, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFound(err, "production task", id)
	}
	return t, nil
}

// FindTask returns the task for (order, material), or nil if there is none.
// The row is locked, so callers run it inside a transaction.
func (q *Queries) FindTask(ctx context.Context, orderID, materialID int64) (*ProductionTask, error) {
	row := q.queryRow(ctx, fmt.Sprintf(`SELECT %s FROM production_tasks WHERE order_id=? AND material_id=?`, taskSelectCols)+q.dialect.ForUpdate(),
		orderID, materialID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task for order %d material %d: %w", orderID, materialID, err)
	}
	return t, nil
}

func (q *Queries) InsertTask(ctx context.Context, t *ProductionTask) error {
	id, err := q.insertID(ctx, `INSERT INTO production_tasks (order_id, material_id, qty_to_produce, status) VALUES (?, ?, ?, ?)`,
		t.OrderID, t.MaterialID, t.QtyToProduce, t.Status)
	if err != nil {
		return fmt.Errorf("insert production task: %w", err)
	}
	t.ID = id
	return nil
}

// UpdateTaskQty rewrites quantity and status of an existing task.
func (q *Queries) UpdateTaskQty(ctx context.Context, id int64, qty decimal.Decimal, status string) error {
	_, err := q.exec(ctx, `UPDATE production_tasks SET qty_to_produce=?, status=?, updated_at=datetime('now','localtime') WHERE id=?`,
		qty, status, id)
	if err != nil {
		return fmt.Errorf("update production task %d: %w", id, err)
	}
	return nil
}

// SetTaskState stores a state machine transition.
func (q *Queries) SetTaskState(ctx context.Context, t *ProductionTask) error {
	var startedAt, completedAt any
	if t.StartedAt != nil {
		startedAt = q.dialect.TimeArg(*t.StartedAt)
	}
	if t.CompletedAt != nil {
		completedAt = q.dialect.TimeArg(*t.CompletedAt)
	}
	_, err := q.exec(ctx, `UPDATE production_tasks SET status=?, started_at=?, completed_at=?, updated_at=datetime('now','localtime') WHERE id=?`,
		t.Status, startedAt, completedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update production task %d: %w", t.ID, err)
	}
	return nil
}

func (q *Queries) DeleteTask(ctx context.Context, orderID, materialID int64) (bool, error) {
	res, err := q.exec(ctx, `DELETE FROM production_tasks WHERE order_id=? AND material_id=?`, orderID, materialID)
	if err != nil {
		return false, fmt.Errorf("delete production task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *Queries) DeleteOrderTasks(ctx context.Context, orderID int64) error {
	_, err := q.exec(ctx, `DELETE FROM production_tasks WHERE order_id=?`, orderID)
	if err != nil {
		return fmt.Errorf("delete tasks of order %d: %w", orderID, err)
	}
	return nil
}

// ListTasks returns tasks oldest first, optionally filtered by status.
func (q *Queries) ListTasks(ctx context.Context, status string, limit int) ([]*ProductionTask, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = q.query(ctx, fmt.Sprintf(`SELECT %s FROM production_tasks WHERE status=? ORDER BY id LIMIT ?`, taskSelectCols), status, limit)
	} else {
		rows, err = q.query(ctx, fmt.Sprintf(`SELECT %s FROM production_tasks ORDER BY id LIMIT ?`, taskSelectCols), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (q *Queries) ListOrderTasks(ctx context.Context, orderID int64) ([]*ProductionTask, error) {
	rows, err := q.query(ctx, fmt.Sprintf(`SELECT %s FROM production_tasks WHERE order_id=? ORDER BY id`, taskSelectCols), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}
