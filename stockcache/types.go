// Package stockcache keeps a Redis copy of per-material stock positions for
// the read side. SQL stays authoritative; every miss or Redis failure falls
// back to it.
package stockcache

import (
	"time"

	"stockcore/store"
)

// Position is a cached stock position and when it was computed.
type Position struct {
	store.StockPosition
	ComputedAt time.Time `json:"computed_at"`
	// Cached is false when the position came straight from SQL.
	Cached bool `json:"cached"`
}
