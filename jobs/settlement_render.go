package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wasel-ledger/wasel-ledger/internal/remittance"
)

const (
	// TaskSettlementRender retries settlement receipt rendering. The
	// reference on the remittance is authoritative; this only produces
	// the document behind it.
	TaskSettlementRender = "settlement:render"
)

// SettlementRenderPayload identifies the remittance whose receipt to render.
type SettlementRenderPayload struct {
	RemittanceID string `json:"remittance_id"`
}

// NewSettlementRenderTask constructs an Asynq task.
func NewSettlementRenderTask(payload SettlementRenderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettlementRender, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// RemittanceGetter loads a remittance record by id.
type RemittanceGetter interface {
	Get(ctx context.Context, id uuid.UUID) (remittance.Record, error)
}

// ReceiptRenderer renders one settlement receipt document.
type ReceiptRenderer interface {
	Render(ctx context.Context, ref string, rec remittance.Record) error
}

// NewSettlementRenderHandler builds the handler for TaskSettlementRender.
func NewSettlementRenderHandler(getter RemittanceGetter, renderer ReceiptRenderer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SettlementRenderPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		id, err := uuid.Parse(payload.RemittanceID)
		if err != nil {
			return asynq.SkipRetry
		}
		rec, err := getter.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.SettlementRef == "" {
			// Not accepted yet, nothing to render.
			return asynq.SkipRetry
		}
		if err := renderer.Render(ctx, rec.SettlementRef, rec); err != nil {
			logger.Warn("settlement render", slog.String("remittance_id", payload.RemittanceID), slog.Any("error", err))
			return err
		}
		logger.Info("settlement rendered", slog.String("ref", rec.SettlementRef))
		return nil
	}
}
