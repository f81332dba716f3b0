package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentStatus enumerates shipment states reported by the order subsystem.
// Only delivered orders feed the ledger.
type ShipmentStatus string

const (
	StatusAssigned  ShipmentStatus = "assigned"
	StatusDelivered ShipmentStatus = "delivered"
	StatusReturned  ShipmentStatus = "returned"
	StatusCancelled ShipmentStatus = "cancelled"
)

// Order is a delivered-order fact. The order subsystem owns every field
// except CommissionApplied/CommissionAmount, which this core annotates
// exactly once per order.
type Order struct {
	ID                int64
	DriverID          int64
	ShipmentStatus    ShipmentStatus
	CollectedAmount   decimal.Decimal
	Currency          string
	Country           string
	DeliveredAt       *time.Time
	CommissionApplied bool
	CommissionAmount  *decimal.Decimal
	CreatedAt         time.Time
}

// DeliveredFact is the ingestion payload posted by the order subsystem when
// a shipment reaches the delivered state.
type DeliveredFact struct {
	OrderID         int64
	DriverID        int64
	CollectedAmount decimal.Decimal
	Currency        string
	Country         string
	DeliveredAt     time.Time
}
