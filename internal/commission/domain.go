package commission

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestStatus enumerates commission request states. pending and approved
// are open; paid and rejected are terminal.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestPaid     RequestStatus = "paid"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestPaid || s == RequestRejected
}

// openStatuses lists the states a request can still leave. The repository
// CAS predicates for reject and pay derive from this.
func openStatuses() []RequestStatus {
	var out []RequestStatus
	for _, s := range []RequestStatus{RequestPending, RequestApproved, RequestPaid, RequestRejected} {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

// Profile holds a driver's commission settings. TotalEarned is derived
// (applied orders x rate + extra), never stored.
type Profile struct {
	DriverID           int64
	CommissionPerOrder decimal.Decimal
	Currency           string
	IsPaused           bool
	ExtraCommission    decimal.Decimal
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Request is a payout request for accrued commission. Amount counts toward
// the driver's paidCommission total only once Status == paid.
type Request struct {
	ID           uuid.UUID
	DriverID     int64
	Amount       decimal.Decimal
	Currency     string
	Rate         decimal.Decimal
	OrderCount   int64
	Status       RequestStatus
	Note         string
	RejectReason string
	ApprovedAt   *time.Time
	ApprovedBy   *int64
	PaidAt       *time.Time
	PaidBy       *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateRequestInput carries the fields a driver or manager submits.
type CreateRequestInput struct {
	DriverID   int64
	Amount     decimal.Decimal
	Currency   string
	Rate       decimal.Decimal
	OrderCount int64
	Note       string
}

// BackfillScope selects which delivered orders a backfill touches. The zero
// value means "every delivered order not yet carrying commission", which is
// what the settings screen triggers after a rate change.
type BackfillScope struct {
	OrderIDs []int64
}

// BackfillResult reports backfill progress. On partial failure it still
// counts the orders actually updated so repeated calls converge.
type BackfillResult struct {
	OrdersAffected int64
	AmountApplied  decimal.Decimal
}
