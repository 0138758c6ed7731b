package messaging

import (
	"context"

	"github.com/rs/zerolog"

	"stockcore/production"
	"stockcore/protocol"
	"stockcore/receiving"
	"stockcore/store"
)

// ReceiptPoster posts draft receipts. Satisfied by *receiving.Poster.
type ReceiptPoster interface {
	Post(ctx context.Context, receiptID int64, opts receiving.PostOptions) (*store.InventoryReceipt, error)
}

// TaskMutator applies shop-floor task actions. Satisfied by *production.Tracker.
type TaskMutator interface {
	Mutate(ctx context.Context, taskID int64, action, actor string) (*store.ProductionTask, error)
}

// CoreHandler handles inbound station commands on the commands topic and
// hands them to the receipt poster and the production tracker.
type CoreHandler struct {
	protocol.NoOpHandler

	poster ReceiptPoster
	tasks  TaskMutator
	log    zerolog.Logger
}

func NewCoreHandler(poster ReceiptPoster, tasks TaskMutator, log zerolog.Logger) *CoreHandler {
	return &CoreHandler{
		poster: poster,
		tasks:  tasks,
		log:    log.With().Str("component", "core_handler").Logger(),
	}
}

func (h *CoreHandler) HandleReceiptPost(ctx context.Context, env *protocol.Envelope, p *protocol.ReceiptPost) {
	postedBy := p.PostedBy
	if postedBy == "" {
		postedBy = env.Src.Station
	}
	r, err := h.poster.Post(ctx, p.ReceiptID, receiving.PostOptions{PostedBy: postedBy, AutoAllocate: p.AutoAllocate})
	if err != nil {
		h.log.Warn().Err(err).Str("msg", env.ID).Str("station", env.Src.Station).Int64("receipt", p.ReceiptID).Msg("receipt post rejected")
		return
	}
	h.log.Info().Str("station", env.Src.Station).Int64("receipt", r.ID).Msg("receipt posted from station")
}

func (h *CoreHandler) HandleTaskAction(ctx context.Context, env *protocol.Envelope, p *protocol.TaskAction) {
	actor := p.Actor
	if actor == "" {
		actor = env.Src.Station
	}
	task, err := h.tasks.Mutate(ctx, p.TaskID, p.Action, actor)
	if err != nil {
		h.log.Warn().Err(err).Str("msg", env.ID).Str("station", env.Src.Station).Int64("task", p.TaskID).
			Str("action", p.Action).Msg("task action rejected")
		return
	}
	h.log.Info().Str("station", env.Src.Station).Int64("task", task.ID).Str("status", task.Status).Msg("task action applied")
}

var (
	_ ReceiptPoster = (*receiving.Poster)(nil)
	_ TaskMutator   = (*production.Tracker)(nil)
)
