package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wasel-ledger/wasel-ledger/internal/platform/db"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// Repository provides PostgreSQL backed access to delivered-order facts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, driver_id, shipment_status, collected_amount::text, currency, country, delivered_at, commission_applied, commission_amount::text, created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var collected string
	var commission *string
	if err := row.Scan(&o.ID, &o.DriverID, &o.ShipmentStatus, &collected, &o.Currency, &o.Country, &o.DeliveredAt, &o.CommissionApplied, &commission, &o.CreatedAt); err != nil {
		return Order{}, err
	}
	amount, err := decimal.NewFromString(collected)
	if err != nil {
		return Order{}, fmt.Errorf("orders: parse collected amount: %w", err)
	}
	o.CollectedAmount = amount
	if commission != nil {
		c, err := decimal.NewFromString(*commission)
		if err != nil {
			return Order{}, fmt.Errorf("orders: parse commission amount: %w", err)
		}
		o.CommissionAmount = &c
	}
	return o, nil
}

// Get returns a single order.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: order %d", shared.ErrNotFound, id)
		}
		return Order{}, err
	}
	return order, nil
}

// RecordDelivered upserts a delivered-order fact. Re-deliveries of the same
// order id update the collected amount but never reset the commission flag.
func (r *Repository) RecordDelivered(ctx context.Context, fact DeliveredFact) (Order, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO orders (id, driver_id, shipment_status, collected_amount, currency, country, delivered_at, commission_applied, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, false, NOW())
ON CONFLICT (id) DO UPDATE SET
	shipment_status = EXCLUDED.shipment_status,
	collected_amount = EXCLUDED.collected_amount,
	delivered_at = EXCLUDED.delivered_at`,
		fact.OrderID, fact.DriverID, StatusDelivered, shared.MoneyString(fact.CollectedAmount), fact.Currency, fact.Country, fact.DeliveredAt)
	if err != nil {
		return Order{}, err
	}
	return r.Get(ctx, fact.OrderID)
}

// ListDelivered returns delivered orders for a driver/country within range.
func (r *Repository) ListDelivered(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE driver_id=$1 AND shipment_status=$2`
	args := []any{driverID, StatusDelivered}
	if country != "" {
		args = append(args, country)
		query += fmt.Sprintf(" AND country=$%d", len(args))
	}
	if dateRange.From != nil {
		args = append(args, *dateRange.From)
		query += fmt.Sprintf(" AND delivered_at >= $%d", len(args))
	}
	if dateRange.To != nil {
		args = append(args, *dateRange.To)
		query += fmt.Sprintf(" AND delivered_at <= $%d", len(args))
	}
	query += " ORDER BY delivered_at"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// SumCollected totals collected COD over delivered orders.
func (r *Repository) SumCollected(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error) {
	return r.sumDelivered(ctx, "collected_amount", driverID, country, dateRange)
}

// SumCommission totals commission already annotated onto delivered orders.
func (r *Repository) SumCommission(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error) {
	return r.sumDelivered(ctx, "commission_amount", driverID, country, dateRange)
}

func (r *Repository) sumDelivered(ctx context.Context, column string, driverID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error) {
	query := fmt.Sprintf(`SELECT COALESCE(SUM(%s), 0)::text FROM orders WHERE driver_id=$1 AND shipment_status=$2`, column)
	args := []any{driverID, StatusDelivered}
	if country != "" {
		args = append(args, country)
		query += fmt.Sprintf(" AND country=$%d", len(args))
	}
	if dateRange.From != nil {
		args = append(args, *dateRange.From)
		query += fmt.Sprintf(" AND delivered_at >= $%d", len(args))
	}
	if dateRange.To != nil {
		args = append(args, *dateRange.To)
		query += fmt.Sprintf(" AND delivered_at <= $%d", len(args))
	}
	var sum string
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return shared.ParseMoney(sum)
}

// CountDelivered counts delivered orders for a driver/country within range.
func (r *Repository) CountDelivered(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) (int64, error) {
	return r.countDelivered(ctx, driverID, country, dateRange, false)
}

// CountApplied counts delivered orders already carrying commission.
func (r *Repository) CountApplied(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) (int64, error) {
	return r.countDelivered(ctx, driverID, country, dateRange, true)
}

func (r *Repository) countDelivered(ctx context.Context, driverID int64, country string, dateRange shared.DateRange, appliedOnly bool) (int64, error) {
	query := `SELECT COUNT(*) FROM orders WHERE driver_id=$1 AND shipment_status=$2`
	args := []any{driverID, StatusDelivered}
	if country != "" {
		args = append(args, country)
		query += fmt.Sprintf(" AND country=$%d", len(args))
	}
	if appliedOnly {
		query += " AND commission_applied"
	}
	if dateRange.From != nil {
		args = append(args, *dateRange.From)
		query += fmt.Sprintf(" AND delivered_at >= $%d", len(args))
	}
	if dateRange.To != nil {
		args = append(args, *dateRange.To)
		query += fmt.Sprintf(" AND delivered_at <= $%d", len(args))
	}
	var count int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListUnappliedIDs returns up to limit delivered orders without commission,
// oldest delivery first. Backfill consumes them chunk by chunk.
func (r *Repository) ListUnappliedIDs(ctx context.Context, driverID int64, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM orders
WHERE driver_id=$1 AND shipment_status=$2 AND NOT commission_applied
ORDER BY delivered_at LIMIT $3`, driverID, StatusDelivered, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkApplied annotates the given orders with the commission rate. The
// predicate skips orders already applied, so replays count zero rows and the
// flag flips false to true exactly once per order.
func (r *Repository) MarkApplied(ctx context.Context, ids []int64, rate decimal.Decimal) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var affected int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE orders
SET commission_applied = true, commission_amount = $1
WHERE id = ANY($2) AND shipment_status = $3 AND NOT commission_applied`,
			shared.MoneyString(rate), ids, StatusDelivered)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// LatestDelivery returns the most recent delivery timestamp for the driver,
// or zero time when none exist.
func (r *Repository) LatestDelivery(ctx context.Context, driverID int64) (time.Time, error) {
	var ts *time.Time
	if err := r.pool.QueryRow(ctx, `SELECT MAX(delivered_at) FROM orders WHERE driver_id=$1 AND shipment_status=$2`, driverID, StatusDelivered).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}
