package production

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockcore/store"
)

const (
	ActionStart    = "start"
	ActionComplete = "complete"
)

// ErrInvalidAction is returned for an action the task's state does not allow.
var ErrInvalidAction = fmt.Errorf("invalid task action: %w", store.ErrConflict)

// Emitter is the interface adapters must satisfy to bridge task events to the engine.
type Emitter interface {
	EmitTaskUpserted(taskID, orderID, materialID int64, qty decimal.Decimal, status string)
	EmitTaskChanged(taskID, orderID, materialID int64, status, actor string)
	EmitTaskRemoved(taskID, orderID, materialID int64)
}

// Tracker owns the production task state machine
// PENDING -> IN_PROGRESS -> DONE.
type Tracker struct {
	db      *store.DB
	emitter Emitter
	log     zerolog.Logger
	now     func() time.Time
}

func NewTracker(db *store.DB, emitter Emitter, log zerolog.Logger) *Tracker {
	return &Tracker{
		db:      db,
		emitter: emitter,
		log:     log.With().Str("component", "production").Logger(),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for started/completed stamps.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Mutate applies a named action to a task.
func (t *Tracker) Mutate(ctx context.Context, taskID int64, action, actor string) (*store.ProductionTask, error) {
	switch action {
	case ActionStart:
		return t.Start(ctx, taskID, actor)
	case ActionComplete:
		return t.Complete(ctx, taskID, actor)
	default:
		return nil, fmt.Errorf("task %d action %q: %w", taskID, action, ErrInvalidAction)
	}
}

// Start moves a PENDING task to IN_PROGRESS. Tasks already started or done
// are returned unchanged.
func (t *Tracker) Start(ctx context.Context, taskID int64, actor string) (*store.ProductionTask, error) {
	var task *store.ProductionTask
	changed := false
	err := t.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		task, err = tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != store.TaskPending {
			return nil
		}
		task.Status = store.TaskInProgress
		if task.StartedAt == nil {
			now := t.now()
			task.StartedAt = &now
		}
		changed = true
		return tx.SetTaskState(ctx, task)
	})
	if err != nil {
		return nil, fmt.Errorf("start task %d: %w", taskID, err)
	}
	if changed {
		t.log.Info().Int64("task", task.ID).Int64("order", task.OrderID).Str("actor", actor).Msg("task started")
		t.emitter.EmitTaskChanged(task.ID, task.OrderID, task.MaterialID, task.Status, actor)
	}
	return task, nil
}

// Complete finishes a task and records its output as in flight to the
// order until a production receipt is posted.
func (t *Tracker) Complete(ctx context.Context, taskID int64, actor string) (*store.ProductionTask, error) {
	var task *store.ProductionTask
	err := t.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		task, err = tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status == store.TaskDone {
			return ErrInvalidAction
		}
		now := t.now()
		task.Status = store.TaskDone
		task.CompletedAt = &now
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
		if err := tx.SetTaskState(ctx, task); err != nil {
			return err
		}
		return tx.UpsertProductionReservation(ctx, task.OrderID, task.MaterialID, task.QtyToProduce)
	})
	if err != nil {
		return nil, fmt.Errorf("complete task %d: %w", taskID, err)
	}
	t.log.Info().Int64("task", task.ID).Int64("order", task.OrderID).Str("qty", task.QtyToProduce.String()).Str("actor", actor).Msg("task completed")
	t.emitter.EmitTaskChanged(task.ID, task.OrderID, task.MaterialID, task.Status, actor)
	return task, nil
}

// Upsert creates or resizes the task for (order, material) inside the
// caller's transaction. A DONE task keeps its status; any other task goes
// back to PENDING.
func (t *Tracker) Upsert(ctx context.Context, tx *store.Tx, orderID, materialID int64, qty decimal.Decimal) (*store.ProductionTask, error) {
	task, err := tx.FindTask(ctx, orderID, materialID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		task = &store.ProductionTask{
			OrderID:      orderID,
			MaterialID:   materialID,
			QtyToProduce: qty,
			Status:       store.TaskPending,
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return nil, err
		}
		return task, nil
	}
	if task.Status != store.TaskDone {
		task.Status = store.TaskPending
	}
	task.QtyToProduce = qty
	if err := tx.UpdateTaskQty(ctx, task.ID, qty, task.Status); err != nil {
		return nil, err
	}
	return task, nil
}

// Remove deletes the task for (order, material) along with any production
// output reserved for it. It returns the removed task, or nil if none existed.
func (t *Tracker) Remove(ctx context.Context, tx *store.Tx, orderID, materialID int64) (*store.ProductionTask, error) {
	task, err := tx.FindTask(ctx, orderID, materialID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ClearProductionReservation(ctx, orderID, materialID); err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	if _, err := tx.DeleteTask(ctx, orderID, materialID); err != nil {
		return nil, err
	}
	return task, nil
}

// Announce emits upsert notifications once the caller's transaction has
// committed.
func (t *Tracker) Announce(tasks ...*store.ProductionTask) {
	for _, task := range tasks {
		t.emitter.EmitTaskUpserted(task.ID, task.OrderID, task.MaterialID, task.QtyToProduce, task.Status)
	}
}

// AnnounceRemoved emits removal notifications after commit.
func (t *Tracker) AnnounceRemoved(tasks ...*store.ProductionTask) {
	for _, task := range tasks {
		t.emitter.EmitTaskRemoved(task.ID, task.OrderID, task.MaterialID)
	}
}

func (t *Tracker) List(ctx context.Context, status string, limit int) ([]*store.ProductionTask, error) {
	if limit <= 0 {
		limit = 200
	}
	return t.db.ListTasks(ctx, status, limit)
}

func (t *Tracker) Get(ctx context.Context, taskID int64) (*store.ProductionTask, error) {
	return t.db.GetTask(ctx, taskID)
}
