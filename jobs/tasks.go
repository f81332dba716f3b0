package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/wasel-ledger/wasel-ledger/internal/commission"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCommissionBackfill applies a driver's rate to delivered orders.
	TaskCommissionBackfill = "commission:backfill"
)

// CommissionBackfillPayload describes one backfill run.
type CommissionBackfillPayload struct {
	DriverID int64  `json:"driver_id"`
	Rate     string `json:"rate"`
}

// NewCommissionBackfillTask constructs an Asynq task.
func NewCommissionBackfillTask(payload CommissionBackfillPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCommissionBackfill, data, asynq.Queue(QueueDefault)), nil
}

// BackfillRunner is the slice of the commission service the worker needs.
type BackfillRunner interface {
	ApplyToDelivered(ctx context.Context, driverID int64, rate decimal.Decimal, scope commission.BackfillScope) (commission.BackfillResult, error)
}

// NewCommissionBackfillHandler builds the handler for TaskCommissionBackfill.
// The backfill is idempotent, so asynq retries after partial progress are
// safe: already annotated orders are skipped on replay.
func NewCommissionBackfillHandler(runner BackfillRunner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload CommissionBackfillPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		rate, err := decimal.NewFromString(payload.Rate)
		if err != nil {
			return asynq.SkipRetry
		}
		start := time.Now()
		result, err := runner.ApplyToDelivered(ctx, payload.DriverID, rate, commission.BackfillScope{})
		if err != nil {
			logger.Error("commission backfill",
				slog.Int64("driver_id", payload.DriverID),
				slog.Int64("orders_affected", result.OrdersAffected),
				slog.Any("error", err))
			return err
		}
		logger.Info("commission backfill",
			slog.Int64("driver_id", payload.DriverID),
			slog.Int64("orders_affected", result.OrdersAffected),
			slog.String("amount_applied", result.AmountApplied.StringFixed(2)),
			slog.Duration("took", time.Since(start)))
		return nil
	}
}
