package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// Summary is the derived cash position for one driver. Every figure is
// recomputed from the underlying facts; nothing here is stored.
type Summary struct {
	DriverID int64  `json:"driverId"`
	Country  string `json:"country,omitempty"`

	// Collected is the COD total over delivered orders in range.
	Collected decimal.Decimal `json:"collected"`
	// DeliveredToCompany counts only fully accepted remittances.
	DeliveredToCompany decimal.Decimal `json:"deliveredToCompany"`
	// AwaitingFinalApproval is cash the manager has confirmed but the
	// owner has not. It is surfaced separately rather than folded into
	// DeliveredToCompany.
	AwaitingFinalApproval decimal.Decimal `json:"awaitingFinalApproval"`
	// PendingToCompany is Collected minus DeliveredToCompany, floored at
	// zero. OverRemitted carries the excess in the other direction, so an
	// over-payment stays visible instead of vanishing in the clamp.
	PendingToCompany decimal.Decimal `json:"pendingToCompany"`
	OverRemitted     decimal.Decimal `json:"overRemitted"`

	DriverCommission  decimal.Decimal `json:"driverCommission"`
	PaidCommission    decimal.Decimal `json:"paidCommission"`
	PendingCommission decimal.Decimal `json:"pendingCommission"`

	DeliveredOrders int64 `json:"deliveredOrders"`
	AppliedOrders   int64 `json:"appliedOrders"`
}

// Query selects the slice of facts a summary covers.
type Query struct {
	DriverID int64
	Country  string
	Range    shared.DateRange
}
