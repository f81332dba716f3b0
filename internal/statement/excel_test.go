package statement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wasel-ledger/wasel-ledger/internal/ledger"
	"github.com/wasel-ledger/wasel-ledger/internal/orders"
	"github.com/wasel-ledger/wasel-ledger/internal/remittance"
)

func sampleStatement() Statement {
	deliveredAt := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	acceptedAt := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	commission := decimal.RequireFromString("10.00")
	return Statement{
		Summary: ledger.Summary{
			DriverID:           5,
			Country:            "SA",
			Collected:          decimal.RequireFromString("1500.00"),
			DeliveredToCompany: decimal.RequireFromString("900.00"),
			PendingToCompany:   decimal.RequireFromString("600.00"),
			DriverCommission:   decimal.RequireFromString("200.00"),
			DeliveredOrders:    2,
		},
		Orders: []orders.Order{
			{
				ID:                101,
				DriverID:          5,
				ShipmentStatus:    orders.StatusDelivered,
				CollectedAmount:   decimal.RequireFromString("750.00"),
				Currency:          "SAR",
				Country:           "SA",
				DeliveredAt:       &deliveredAt,
				CommissionApplied: true,
				CommissionAmount:  &commission,
			},
			{
				ID:              102,
				DriverID:        5,
				ShipmentStatus:  orders.StatusDelivered,
				CollectedAmount: decimal.RequireFromString("750.00"),
				Currency:        "SAR",
				Country:         "SA",
				DeliveredAt:     &deliveredAt,
			},
		},
		Remittances: []remittance.Record{
			{
				ID:            uuid.New(),
				PayerID:       5,
				PayerRole:     remittance.PayerDriver,
				Amount:        decimal.RequireFromString("900.00"),
				Currency:      "SAR",
				Country:       "SA",
				Method:        remittance.MethodHand,
				Status:        remittance.StatusAccepted,
				SettlementRef: "stl-abc12345",
				AcceptedAt:    &acceptedAt,
				CreatedAt:     deliveredAt,
			},
		},
		GeneratedAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildWorkbookSheets(t *testing.T) {
	f, err := BuildWorkbook(sampleStatement())
	require.NoError(t, err)
	defer f.Close()

	require.ElementsMatch(t, []string{"Summary", "Delivered Orders", "Remittances"}, f.GetSheetList())
}

func TestBuildWorkbookSummaryValues(t *testing.T) {
	f, err := BuildWorkbook(sampleStatement())
	require.NoError(t, err)
	defer f.Close()

	label, err := f.GetCellValue("Summary", "A4")
	require.NoError(t, err)
	require.Equal(t, "Collected", label)

	collected, err := f.GetCellValue("Summary", "B4")
	require.NoError(t, err)
	require.Equal(t, "1500.00", collected)

	pending, err := f.GetCellValue("Summary", "B7")
	require.NoError(t, err)
	require.Equal(t, "600.00", pending)
}

func TestBuildWorkbookOrderRows(t *testing.T) {
	f, err := BuildWorkbook(sampleStatement())
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("Delivered Orders", "A1")
	require.NoError(t, err)
	require.Equal(t, "Order ID", header)

	id, err := f.GetCellValue("Delivered Orders", "A2")
	require.NoError(t, err)
	require.Equal(t, "101", id)

	commission, err := f.GetCellValue("Delivered Orders", "G2")
	require.NoError(t, err)
	require.Equal(t, "10.00", commission)

	// The second order has no commission annotation yet.
	commission, err = f.GetCellValue("Delivered Orders", "G3")
	require.NoError(t, err)
	require.Empty(t, commission)
}

func TestBuildWorkbookRemittanceRows(t *testing.T) {
	st := sampleStatement()
	f, err := BuildWorkbook(st)
	require.NoError(t, err)
	defer f.Close()

	id, err := f.GetCellValue("Remittances", "A2")
	require.NoError(t, err)
	require.Equal(t, st.Remittances[0].ID.String(), id)

	ref, err := f.GetCellValue("Remittances", "F2")
	require.NoError(t, err)
	require.Equal(t, "stl-abc12345", ref)

	status, err := f.GetCellValue("Remittances", "E2")
	require.NoError(t, err)
	require.Equal(t, "accepted", status)
}

func TestBuildWorkbookEmptyStatement(t *testing.T) {
	f, err := BuildWorkbook(Statement{GeneratedAt: time.Now().UTC()})
	require.NoError(t, err)
	defer f.Close()
	require.Len(t, f.GetSheetList(), 3)
}
