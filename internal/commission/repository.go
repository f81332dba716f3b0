package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// Repository defines commission persistence. Request status mutations use
// the same compare-and-swap discipline as remittances.
type Repository interface {
	GetProfile(ctx context.Context, driverID int64) (Profile, error)
	UpsertProfile(ctx context.Context, driverID int64, rate decimal.Decimal, currency string) (Profile, error)
	SetPaused(ctx context.Context, driverID int64, paused bool) (Profile, error)
	AddExtra(ctx context.Context, driverID int64, delta decimal.Decimal) (Profile, error)

	CreateRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (Request, error)
	ListRequests(ctx context.Context, driverID int64, statuses []RequestStatus, limit, offset int) ([]Request, error)
	CountRequests(ctx context.Context, driverID int64, statuses []RequestStatus) (int, error)
	MarkApproved(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) (Request, error)
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) (Request, error)
	MarkPaid(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) (Request, error)

	SumPaid(ctx context.Context, driverID int64) (decimal.Decimal, error)
	ExtraCommission(ctx context.Context, driverID int64) (decimal.Decimal, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

var _ Repository = (*pgRepository)(nil)

const profileColumns = `driver_id, commission_per_order::text, currency, is_paused, extra_commission::text, created_at, updated_at`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	var rate, extra string
	if err := row.Scan(&p.DriverID, &rate, &p.Currency, &p.IsPaused, &extra, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Profile{}, err
	}
	var err error
	if p.CommissionPerOrder, err = decimal.NewFromString(rate); err != nil {
		return Profile{}, fmt.Errorf("commission: parse rate: %w", err)
	}
	if p.ExtraCommission, err = decimal.NewFromString(extra); err != nil {
		return Profile{}, fmt.Errorf("commission: parse extra: %w", err)
	}
	return p, nil
}

func (r *pgRepository) GetProfile(ctx context.Context, driverID int64) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM commission_profiles WHERE driver_id=$1`, driverID)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, fmt.Errorf("%w: commission profile for driver %d", shared.ErrNotFound, driverID)
		}
		return Profile{}, err
	}
	return profile, nil
}

func (r *pgRepository) UpsertProfile(ctx context.Context, driverID int64, rate decimal.Decimal, currency string) (Profile, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO commission_profiles (driver_id, commission_per_order, currency, is_paused, extra_commission, created_at, updated_at)
VALUES ($1, $2, $3, false, 0, NOW(), NOW())
ON CONFLICT (driver_id) DO UPDATE SET commission_per_order=EXCLUDED.commission_per_order, currency=EXCLUDED.currency, updated_at=NOW()`,
		driverID, shared.MoneyString(rate), currency)
	if err != nil {
		return Profile{}, err
	}
	return r.GetProfile(ctx, driverID)
}

func (r *pgRepository) SetPaused(ctx context.Context, driverID int64, paused bool) (Profile, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE commission_profiles SET is_paused=$2, updated_at=NOW() WHERE driver_id=$1`, driverID, paused)
	if err != nil {
		return Profile{}, err
	}
	if tag.RowsAffected() == 0 {
		return Profile{}, fmt.Errorf("%w: commission profile for driver %d", shared.ErrNotFound, driverID)
	}
	return r.GetProfile(ctx, driverID)
}

func (r *pgRepository) AddExtra(ctx context.Context, driverID int64, delta decimal.Decimal) (Profile, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE commission_profiles SET extra_commission = extra_commission + $2, updated_at=NOW() WHERE driver_id=$1`,
		driverID, shared.MoneyString(delta))
	if err != nil {
		return Profile{}, err
	}
	if tag.RowsAffected() == 0 {
		return Profile{}, fmt.Errorf("%w: commission profile for driver %d", shared.ErrNotFound, driverID)
	}
	return r.GetProfile(ctx, driverID)
}

const requestColumns = `id, driver_id, amount::text, currency, rate::text, order_count, status, note, reject_reason,
approved_at, approved_by, paid_at, paid_by, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var amount, rate string
	if err := row.Scan(&req.ID, &req.DriverID, &amount, &req.Currency, &rate, &req.OrderCount, &req.Status, &req.Note, &req.RejectReason,
		&req.ApprovedAt, &req.ApprovedBy, &req.PaidAt, &req.PaidBy, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return Request{}, err
	}
	var err error
	if req.Amount, err = decimal.NewFromString(amount); err != nil {
		return Request{}, fmt.Errorf("commission: parse amount: %w", err)
	}
	if req.Rate, err = decimal.NewFromString(rate); err != nil {
		return Request{}, fmt.Errorf("commission: parse rate: %w", err)
	}
	return req, nil
}

func (r *pgRepository) CreateRequest(ctx context.Context, req Request) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO commission_requests
(id, driver_id, amount, currency, rate, order_count, status, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		req.ID, req.DriverID, shared.MoneyString(req.Amount), req.Currency, shared.MoneyString(req.Rate), req.OrderCount, req.Status, req.Note, req.CreatedAt)
	return err
}

func (r *pgRepository) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM commission_requests WHERE id=$1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("%w: commission request %s", shared.ErrNotFound, id)
		}
		return Request{}, err
	}
	return req, nil
}

func requestPredicate(driverID int64, statuses []RequestStatus) (string, []any) {
	clause := ""
	var args []any
	if driverID != 0 {
		args = append(args, driverID)
		clause += fmt.Sprintf(" AND driver_id=$%d", len(args))
	}
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		args = append(args, values)
		clause += fmt.Sprintf(" AND status=ANY($%d)", len(args))
	}
	return clause, args
}

func (r *pgRepository) ListRequests(ctx context.Context, driverID int64, statuses []RequestStatus, limit, offset int) ([]Request, error) {
	clause, args := requestPredicate(driverID, statuses)
	query := `SELECT ` + requestColumns + ` FROM commission_requests WHERE 1=1` + clause + ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *pgRepository) CountRequests(ctx context.Context, driverID int64, statuses []RequestStatus) (int, error) {
	clause, args := requestPredicate(driverID, statuses)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM commission_requests WHERE 1=1`+clause, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *pgRepository) transition(ctx context.Context, id uuid.UUID, allowed []RequestStatus, set string, args ...any) (Request, error) {
	states := make([]string, len(allowed))
	for i, s := range allowed {
		states[i] = string(s)
	}
	query := fmt.Sprintf(`UPDATE commission_requests SET %s, updated_at=NOW() WHERE id=$1 AND status=ANY($2)`, set)
	tag, err := r.pool.Exec(ctx, query, append([]any{id, states}, args...)...)
	if err != nil {
		return Request{}, err
	}
	if tag.RowsAffected() == 0 {
		current, err := r.GetRequest(ctx, id)
		if err != nil {
			return Request{}, err
		}
		return Request{}, fmt.Errorf("%w: commission request %s is already %s", shared.ErrConflict, id, current.Status)
	}
	return r.GetRequest(ctx, id)
}

func (r *pgRepository) MarkApproved(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) (Request, error) {
	return r.transition(ctx, id, []RequestStatus{RequestPending},
		`status=$3, approved_at=$4, approved_by=$5`, RequestApproved, at, actorID)
}

func (r *pgRepository) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (Request, error) {
	return r.transition(ctx, id, openStatuses(),
		`status=$3, reject_reason=$4`, RequestRejected, reason)
}

func (r *pgRepository) MarkPaid(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) (Request, error) {
	return r.transition(ctx, id, openStatuses(),
		`status=$3, paid_at=$4, paid_by=$5`, RequestPaid, at, actorID)
}

func (r *pgRepository) SumPaid(ctx context.Context, driverID int64) (decimal.Decimal, error) {
	var sum string
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM commission_requests WHERE driver_id=$1 AND status=$2`,
		driverID, RequestPaid).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return shared.ParseMoney(sum)
}

// ExtraCommission reads the manual adjustment on the profile, zero when the
// driver has no profile yet.
func (r *pgRepository) ExtraCommission(ctx context.Context, driverID int64) (decimal.Decimal, error) {
	var extra string
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(extra_commission, 0)::text FROM commission_profiles WHERE driver_id=$1`, driverID).Scan(&extra)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return shared.ParseMoney(extra)
}
