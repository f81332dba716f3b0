package statement

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wasel-ledger/wasel-ledger/internal/ledger"
	"github.com/wasel-ledger/wasel-ledger/internal/orders"
	"github.com/wasel-ledger/wasel-ledger/internal/platform/httpx"
	"github.com/wasel-ledger/wasel-ledger/internal/remittance"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// SummaryReader supplies the derived balances the statement opens with.
type SummaryReader interface {
	GetSummary(ctx context.Context, q ledger.Query) (ledger.Summary, error)
}

// OrderLister supplies the delivered-order rows.
type OrderLister interface {
	ListDelivered(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) ([]orders.Order, error)
}

// RemittanceLister supplies the remittance rows.
type RemittanceLister interface {
	List(ctx context.Context, filter remittance.ListFilter) ([]remittance.Record, error)
}

// Handler serves driver statement downloads.
type Handler struct {
	logger      *slog.Logger
	summaries   SummaryReader
	orders      OrderLister
	remittances RemittanceLister
	now         func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, summaries SummaryReader, orderLister OrderLister, remittances RemittanceLister) *Handler {
	return &Handler{logger: logger, summaries: summaries, orders: orderLister, remittances: remittances, now: time.Now}
}

// MountRoutes registers statement routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/drivers/{driverId}/statement.xlsx", h.handleStatement)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "driverId")
	driverID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || driverID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid driver id %q", shared.ErrValidation, raw))
		return
	}
	country := r.URL.Query().Get("country")
	dateRange, err := parseDateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	ctx := r.Context()
	summary, err := h.summaries.GetSummary(ctx, ledger.Query{DriverID: driverID, Country: country, Range: dateRange})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	orderRows, err := h.orders.ListDelivered(ctx, driverID, country, dateRange)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	remitRows, err := h.remittances.List(ctx, remittance.ListFilter{PayerID: driverID, Country: country})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	workbook, err := BuildWorkbook(Statement{
		Summary:     summary,
		Orders:      orderRows,
		Remittances: remitRows,
		GeneratedAt: h.now().UTC(),
	})
	if err != nil {
		h.logger.Error("build driver statement", slog.Int64("driver_id", driverID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	defer func() {
		_ = workbook.Close()
	}()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=driver-%d-statement.xlsx", driverID))
	if _, err := workbook.WriteTo(w); err != nil {
		h.logger.Error("write driver statement", slog.Int64("driver_id", driverID), slog.Any("error", err))
	}
}

func parseDateRange(r *http.Request) (shared.DateRange, error) {
	var dateRange shared.DateRange
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return dateRange, fmt.Errorf("%w: from must be RFC3339", shared.ErrValidation)
		}
		dateRange.From = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return dateRange, fmt.Errorf("%w: to must be RFC3339", shared.ErrValidation)
		}
		dateRange.To = &t
	}
	return dateRange, nil
}
