package remittance

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

// Repository defines remittance persistence. Every status mutation goes
// through one of the Mark* methods, each of which applies a compare-and-swap
// on (id, status) so concurrent transitions on the same record cannot both
// succeed.
type Repository interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	Count(ctx context.Context, filter ListFilter) (int, error)

	MarkManagerAccepted(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) (Record, error)
	MarkAccepted(ctx context.Context, id uuid.UUID, actorID int64, at time.Time, settlementRef string) (Record, error)
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) (Record, error)

	SumAccepted(ctx context.Context, payerID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error)
	SumManagerAccepted(ctx context.Context, payerID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

var _ Repository = (*pgRepository)(nil)

const recordColumns = `id, payer_id, payer_role, payee_id, amount::text, currency, country, method, note, proof_ref, status, reject_reason,
manager_accepted_at, manager_accepted_by, accepted_at, accepted_by, settlement_ref, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var amount string
	if err := row.Scan(&rec.ID, &rec.PayerID, &rec.PayerRole, &rec.PayeeID, &amount, &rec.Currency, &rec.Country, &rec.Method,
		&rec.Note, &rec.ProofRef, &rec.Status, &rec.RejectReason,
		&rec.ManagerAcceptedAt, &rec.ManagerAcceptedBy, &rec.AcceptedAt, &rec.AcceptedBy, &rec.SettlementRef,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return Record{}, fmt.Errorf("remittance: parse amount: %w", err)
	}
	rec.Amount = value
	return rec, nil
}

func (r *pgRepository) Create(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO remittances
(id, payer_id, payer_role, payee_id, amount, currency, country, method, note, proof_ref, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		rec.ID, rec.PayerID, rec.PayerRole, rec.PayeeID, shared.MoneyString(rec.Amount), rec.Currency, rec.Country,
		rec.Method, rec.Note, rec.ProofRef, rec.Status, rec.CreatedAt)
	return err
}

func (r *pgRepository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM remittances WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: remittance %s", shared.ErrNotFound, id)
		}
		return Record{}, err
	}
	return rec, nil
}

func listPredicate(filter ListFilter) (string, []any) {
	clause := ""
	var args []any
	if filter.PayerID != 0 {
		args = append(args, filter.PayerID)
		clause += fmt.Sprintf(" AND payer_id=$%d", len(args))
	}
	if filter.Country != "" {
		args = append(args, filter.Country)
		clause += fmt.Sprintf(" AND country=$%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		clause += fmt.Sprintf(" AND status=ANY($%d)", len(args))
	}
	return clause, args
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	clause, args := listPredicate(filter)
	query := `SELECT ` + recordColumns + ` FROM remittances WHERE 1=1` + clause
	// manager_accepted records surface first in approval queues.
	query += ` ORDER BY status='manager_accepted' DESC, created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *pgRepository) Count(ctx context.Context, filter ListFilter) (int, error) {
	clause, args := listPredicate(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM remittances WHERE 1=1`+clause, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// transition runs a CAS update. Zero rows affected means the record either
// does not exist or sits outside the allowed source states; the follow-up
// Get distinguishes NotFound from Conflict.
func (r *pgRepository) transition(ctx context.Context, id uuid.UUID, allowed []Status, set string, args ...any) (Record, error) {
	states := make([]string, len(allowed))
	for i, s := range allowed {
		states[i] = string(s)
	}
	query := fmt.Sprintf(`UPDATE remittances SET %s, updated_at=NOW() WHERE id=$1 AND status=ANY($2)`, set)
	tag, err := r.pool.Exec(ctx, query, append([]any{id, states}, args...)...)
	if err != nil {
		return Record{}, err
	}
	if tag.RowsAffected() == 0 {
		current, err := r.Get(ctx, id)
		if err != nil {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: remittance %s is already %s", shared.ErrConflict, id, current.Status)
	}
	return r.Get(ctx, id)
}

func (r *pgRepository) MarkManagerAccepted(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) (Record, error) {
	return r.transition(ctx, id, sourcesOf(StatusManagerAccepted),
		`status=$3, manager_accepted_at=$4, manager_accepted_by=$5`, StatusManagerAccepted, at, actorID)
}

func (r *pgRepository) MarkAccepted(ctx context.Context, id uuid.UUID, actorID int64, at time.Time, settlementRef string) (Record, error) {
	return r.transition(ctx, id, sourcesOf(StatusAccepted),
		`status=$3, accepted_at=$4, accepted_by=$5, settlement_ref=$6`, StatusAccepted, at, actorID, settlementRef)
}

func (r *pgRepository) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (Record, error) {
	return r.transition(ctx, id, sourcesOf(StatusRejected),
		`status=$3, reject_reason=$4`, StatusRejected, reason)
}

func (r *pgRepository) SumAccepted(ctx context.Context, payerID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error) {
	return r.sumByStatus(ctx, payerID, country, dateRange, StatusAccepted)
}

func (r *pgRepository) SumManagerAccepted(ctx context.Context, payerID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error) {
	return r.sumByStatus(ctx, payerID, country, dateRange, StatusManagerAccepted)
}

func (r *pgRepository) sumByStatus(ctx context.Context, payerID int64, country string, dateRange shared.DateRange, status Status) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0)::text FROM remittances WHERE payer_id=$1 AND status=$2`
	args := []any{payerID, status}
	if country != "" {
		args = append(args, country)
		query += fmt.Sprintf(" AND country=$%d", len(args))
	}
	if dateRange.From != nil {
		args = append(args, *dateRange.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if dateRange.To != nil {
		args = append(args, *dateRange.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	var sum string
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return shared.ParseMoney(sum)
}
