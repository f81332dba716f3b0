// Package events delivers one change notification per ledger state
// transition so dependent views can refresh. The transport is pluggable;
// production publishes to NATS JetStream, tests capture in memory.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types, one per state transition.
const (
	TypeOrderDelivered            = "order.delivered"
	TypeRemittanceCreated         = "remittance.created"
	TypeRemittanceManagerAccepted = "remittance.manager_accepted"
	TypeRemittanceAccepted        = "remittance.accepted"
	TypeRemittanceRejected        = "remittance.rejected"
	TypeCommissionRequested       = "commission.requested"
	TypeCommissionApproved        = "commission.approved"
	TypeCommissionRejected        = "commission.rejected"
	TypeCommissionPaid            = "commission.paid"
	TypeCommissionBackfilled      = "commission.backfilled"
)

// Payload carries the record identity and its post-transition state.
type Payload struct {
	RecordID string `json:"recordId"`
	DriverID int64  `json:"driverId,omitempty"`
	Status   string `json:"status,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Event is the envelope published for every transition.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    Payload   `json:"payload"`
}

// New builds an event envelope with a fresh ID and UTC timestamp.
func New(eventType string, payload Payload) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Source:     "wasel-ledger",
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Emitter publishes transition events. Emit must not be load-bearing for the
// transition itself: the record state is already committed when Emit runs.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

// Emit implements Emitter.
func (Noop) Emit(context.Context, Event) error { return nil }
