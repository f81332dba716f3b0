package ledger

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wasel-ledger/wasel-ledger/internal/platform/httpx"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// Handler exposes the summary endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes registers ledger routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/summary", h.handleSummary)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.GetSummary(r.Context(), q)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func parseQuery(r *http.Request) (Query, error) {
	raw := r.URL.Query().Get("driverId")
	driverID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || driverID <= 0 {
		return Query{}, fmt.Errorf("%w: driverId must be a positive integer", shared.ErrValidation)
	}
	q := Query{DriverID: driverID, Country: r.URL.Query().Get("country")}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return Query{}, fmt.Errorf("%w: from must be RFC3339", shared.ErrValidation)
		}
		q.Range.From = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return Query{}, fmt.Errorf("%w: to must be RFC3339", shared.ErrValidation)
		}
		q.Range.To = &t
	}
	return q, nil
}
