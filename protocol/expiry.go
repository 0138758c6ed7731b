package protocol

import "time"

// Default TTLs by message category. Task and allocation notices go stale
// quickly; receipts and stock changes stay useful to late subscribers.
var defaultTTLs = map[string]time.Duration{
	TypeTaskUpserted:        10 * time.Minute,
	TypeTaskChanged:         10 * time.Minute,
	TypeAllocationAvailable: 10 * time.Minute,
	TypeOrderStage:          30 * time.Minute,
	TypeReceiptPosted:       60 * time.Minute,
	TypeStockAdjusted:       60 * time.Minute,

	TypeReceiptPost: 5 * time.Minute,
	TypeTaskAction:  5 * time.Minute,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = 10 * time.Minute

func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired returns true if the envelope has passed its expiry time.
func IsExpired(env *Envelope) bool {
	return expired(env.ExpiresAt)
}

// IsExpiredHeader checks expiry using only the raw header.
func IsExpiredHeader(hdr *RawHeader) bool {
	return expired(hdr.ExpiresAt)
}

func expired(at time.Time) bool {
	if at.IsZero() {
		return false
	}
	return time.Now().UTC().After(at)
}
