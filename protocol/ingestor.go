package protocol

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler defines callbacks for the inbound message types.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	HandleReceiptPost(ctx context.Context, env *Envelope, p *ReceiptPost)
	HandleTaskAction(ctx context.Context, env *Envelope, p *TaskAction)
}

// NoOpHandler ignores every message.
type NoOpHandler struct{}

func (NoOpHandler) HandleReceiptPost(context.Context, *Envelope, *ReceiptPost) {}
func (NoOpHandler) HandleTaskAction(context.Context, *Envelope, *TaskAction)   {}

// CoreFilter accepts messages addressed to the core, either untargeted or
// targeted at stationID.
func CoreFilter(stationID string) FilterFunc {
	return func(hdr *RawHeader) bool {
		if hdr.Dst.Role != RoleCore {
			return false
		}
		s := hdr.Dst.Station
		return s == "" || s == Broadcast || s == stationID
	}
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
	log     zerolog.Logger
}

func NewIngestor(handler MessageHandler, filter FilterFunc, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		handler: handler,
		filter:  filter,
		log:     log.With().Str("component", "ingestor").Logger(),
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(ctx context.Context, data []byte) {
	// Phase 1: decode routing header only
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		ing.log.Warn().Err(err).Msg("header decode error")
		return
	}

	if IsExpiredHeader(&hdr) {
		ing.log.Debug().Str("id", hdr.ID).Str("type", hdr.Type).Msg("dropping expired message")
		return
	}

	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	// Phase 2: full envelope decode
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ing.log.Warn().Err(err).Str("id", hdr.ID).Msg("envelope decode error")
		return
	}

	switch env.Type {
	case TypeReceiptPost:
		decodeAndCall(ctx, ing, ing.handler.HandleReceiptPost, &env)
	case TypeTaskAction:
		decodeAndCall(ctx, ing, ing.handler.HandleTaskAction, &env)
	default:
		ing.log.Debug().Str("type", env.Type).Msg("unknown message type")
	}
}

func decodeAndCall[T any](ctx context.Context, ing *Ingestor, fn func(context.Context, *Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ing.log.Warn().Err(err).Str("type", env.Type).Msg("payload decode error")
		return
	}
	fn(ctx, env, &p)
}
