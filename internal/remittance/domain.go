package remittance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates remittance states. Transitions only ever move forward:
// pending -> manager_accepted -> accepted|rejected, or pending -> accepted|rejected.
type Status string

const (
	StatusPending         Status = "pending"
	StatusManagerAccepted Status = "manager_accepted"
	StatusAccepted        Status = "accepted"
	StatusRejected        Status = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// transitions is the full forward-only state machine.
var transitions = map[Status][]Status{
	StatusPending:         {StatusManagerAccepted, StatusAccepted, StatusRejected},
	StatusManagerAccepted: {StatusAccepted, StatusRejected},
}

// CanTransition reports whether s may move to target.
func (s Status) CanTransition(target Status) bool {
	if s.Terminal() {
		return false
	}
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// sourcesOf lists the states allowed to move into target. The repository
// CAS predicates derive from this, so the state machine has one definition.
func sourcesOf(target Status) []Status {
	var out []Status
	for _, s := range []Status{StatusPending, StatusManagerAccepted, StatusAccepted, StatusRejected} {
		if s.CanTransition(target) {
			out = append(out, s)
		}
	}
	return out
}

// Method enumerates how the cash physically moved.
type Method string

const (
	MethodHand     Method = "hand"
	MethodTransfer Method = "transfer"
)

// PayerRole identifies who is remitting upward.
type PayerRole string

const (
	PayerDriver  PayerRole = "driver"
	PayerManager PayerRole = "manager"
)

// Record represents cash moving from a payer (driver or manager) to a payee
// (manager or company). Amount counts toward the payee's received total if
// and only if Status == accepted.
type Record struct {
	ID                uuid.UUID
	PayerID           int64
	PayerRole         PayerRole
	PayeeID           *int64
	Amount            decimal.Decimal
	Currency          string
	Country           string
	Method            Method
	Note              string
	ProofRef          string
	Status            Status
	RejectReason      string
	ManagerAcceptedAt *time.Time
	ManagerAcceptedBy *int64
	AcceptedAt        *time.Time
	AcceptedBy        *int64
	SettlementRef     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateInput carries the fields a payer submits.
type CreateInput struct {
	PayerID   int64
	PayerRole PayerRole
	PayeeID   *int64
	Amount    decimal.Decimal
	Currency  string
	Country   string
	Method    Method
	Note      string
	ProofRef  string
}

// ListFilter narrows List results. Zero Limit means no paging.
type ListFilter struct {
	PayerID  int64
	Country  string
	Statuses []Status
	Limit    int
	Offset   int
}
