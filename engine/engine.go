package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockcore/allocation"
	"stockcore/config"
	"stockcore/messaging"
	"stockcore/ordering"
	"stockcore/production"
	"stockcore/receiving"
	"stockcore/stockcache"
	"stockcore/store"
)

type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	// MsgClient may be nil when notifications stay in the outbox.
	MsgClient *messaging.Client
	// Cache may be nil when Redis is disabled.
	Cache  *stockcache.Manager
	Logger zerolog.Logger
}

type Engine struct {
	cfg       *config.Config
	db        *store.DB
	msgClient *messaging.Client
	cache     *stockcache.Manager
	tasks     *production.Tracker
	allocator *allocation.Engine
	poster    *receiving.Poster
	processor *ordering.Processor
	metrics   *Metrics
	Events    *EventBus
	log       zerolog.Logger

	stopOnce     sync.Once
	stopChan     chan struct{}
	mu           sync.Mutex
	msgConnected bool
}

// New builds the engine and its services. Events flow once Start wires the
// subscribers.
func New(c Config) *Engine {
	e := &Engine{
		cfg:       c.AppConfig,
		db:        c.DB,
		msgClient: c.MsgClient,
		cache:     c.Cache,
		metrics:   newMetrics(),
		Events:    NewEventBus(c.Logger),
		log:       c.Logger.With().Str("component", "engine").Logger(),
		stopChan:  make(chan struct{}),
	}

	ttl := e.cfg.Allocation.ReservationTTL
	e.tasks = production.NewTracker(e.db, &taskEmitter{bus: e.Events}, c.Logger)
	e.allocator = allocation.NewEngine(e.db, e.tasks, &allocationEmitter{bus: e.Events}, ttl, c.Logger)
	e.poster = receiving.NewPoster(e.db, e.allocator, &receiptEmitter{bus: e.Events}, c.Logger)
	e.processor = ordering.NewProcessor(e.db, e.tasks, &orderEmitter{bus: e.Events}, ttl, c.Logger)
	return e
}

func (e *Engine) Start() {
	e.wireEventHandlers()

	// Emit initial connection status
	e.checkConnectionStatus()

	go e.connectionHealthLoop()

	e.log.Info().Msg("engine started")
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.log.Info().Msg("engine stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                  { return e.db }
func (e *Engine) AppConfig() *config.Config      { return e.cfg }
func (e *Engine) Tracker() *production.Tracker   { return e.tasks }
func (e *Engine) Allocator() *allocation.Engine  { return e.allocator }
func (e *Engine) Poster() *receiving.Poster      { return e.poster }
func (e *Engine) Processor() *ordering.Processor { return e.processor }
func (e *Engine) Cache() *stockcache.Manager     { return e.cache }
func (e *Engine) MsgClient() *messaging.Client   { return e.msgClient }
func (e *Engine) Metrics() *Metrics              { return e.metrics }
func (e *Engine) Logger() zerolog.Logger         { return e.log }

// MessagingConnected reports the last observed transport state.
func (e *Engine) MessagingConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.msgConnected
}

func (e *Engine) checkConnectionStatus() {
	if e.msgClient == nil {
		return
	}
	connected := e.msgClient.IsConnected()

	e.mu.Lock()
	changed := connected != e.msgConnected
	e.msgConnected = connected
	e.mu.Unlock()
	if !changed {
		return
	}
	if connected {
		e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected (" + e.cfg.Messaging.Backend + ")"}})
	} else {
		e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}
