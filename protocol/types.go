package protocol

// Message type constants for the notification protocol.
const (
	// Core -> stations (published on the notify topic)
	TypeTaskUpserted        = "task.upserted"
	TypeTaskChanged         = "task.changed"
	TypeAllocationAvailable = "allocation.available"
	TypeOrderStage          = "order.stage"
	TypeReceiptPosted       = "receipt.posted"
	TypeStockAdjusted       = "stock.adjusted"

	// Stations -> core (published on the commands topic)
	TypeReceiptPost = "receipt.post"
	TypeTaskAction  = "task.action"
)

// Roles for Address.Role.
const (
	RoleStation = "station"
	RoleCore    = "core"
)

// Broadcast is the station id that every station accepts.
const Broadcast = "*"

// Protocol version.
const Version = 1
