package stockcache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stockcore/store"
)

// Manager serves stock positions from Redis when it can and from SQL
// otherwise. Writers never read through it.
type Manager struct {
	db    *store.DB
	redis *RedisStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewManager builds a manager. A nil redis store disables caching.
func NewManager(db *store.DB, redis *RedisStore, log zerolog.Logger) *Manager {
	return &Manager{
		db:    db,
		redis: redis,
		log:   log.With().Str("component", "stockcache").Logger(),
		now:   time.Now,
	}
}

// Healthy reports whether the Redis cache is configured and reachable.
func (m *Manager) Healthy(ctx context.Context) bool {
	return m.redis != nil && m.redis.Ping(ctx) == nil
}

// Position reads a material's stock position from Redis, falls back to SQL
// and repopulates the cache.
func (m *Manager) Position(ctx context.Context, materialID int64) (*Position, error) {
	if m.redis != nil {
		pos, err := m.redis.GetPosition(ctx, materialID)
		if err == nil && pos != nil {
			pos.Cached = true
			return pos, nil
		}
		if err != nil {
			m.log.Debug().Err(err).Int64("material", materialID).Msg("redis read failed, using sql")
		}
	}
	pos, err := m.fromSQL(ctx, materialID)
	if err != nil {
		return nil, err
	}
	m.store(ctx, pos)
	return pos, nil
}

// Positions returns every material's position, preferring cached entries.
func (m *Manager) Positions(ctx context.Context) ([]*Position, error) {
	materials, err := m.db.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Position, 0, len(materials))
	for _, mat := range materials {
		pos, err := m.Position(ctx, mat.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// Invalidate drops cached positions; the next read recomputes them.
func (m *Manager) Invalidate(ctx context.Context, materialIDs ...int64) {
	if m.redis == nil || len(materialIDs) == 0 {
		return
	}
	if err := m.redis.DeletePositions(ctx, materialIDs...); err != nil {
		m.log.Warn().Err(err).Ints64("materials", materialIDs).Msg("invalidate")
	}
}

// RefreshMaterial recomputes a material's position from SQL and writes it
// to Redis.
func (m *Manager) RefreshMaterial(ctx context.Context, materialID int64) {
	if m.redis == nil {
		return
	}
	pos, err := m.fromSQL(ctx, materialID)
	if err != nil {
		m.log.Warn().Err(err).Int64("material", materialID).Msg("refresh")
		return
	}
	m.store(ctx, pos)
}

// SyncFromSQL rebuilds the cache from SQL. Called on startup.
func (m *Manager) SyncFromSQL(ctx context.Context) error {
	if m.redis == nil {
		return nil
	}
	if err := m.redis.FlushAll(ctx); err != nil {
		return err
	}
	materials, err := m.db.ListMaterials(ctx)
	if err != nil {
		return err
	}
	for _, mat := range materials {
		m.RefreshMaterial(ctx, mat.ID)
	}
	m.log.Info().Int("materials", len(materials)).Msg("synced stock positions to redis")
	return nil
}

func (m *Manager) fromSQL(ctx context.Context, materialID int64) (*Position, error) {
	now := m.now()
	sp, err := m.db.StockPosition(ctx, materialID, now)
	if err != nil {
		return nil, err
	}
	return &Position{StockPosition: *sp, ComputedAt: now}, nil
}

func (m *Manager) store(ctx context.Context, pos *Position) {
	if m.redis == nil {
		return
	}
	if err := m.redis.SetPosition(ctx, pos); err != nil {
		m.log.Debug().Err(err).Int64("material", pos.MaterialID).Msg("redis write failed")
	}
}
