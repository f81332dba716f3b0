package statement

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/wasel-ledger/wasel-ledger/internal/ledger"
	"github.com/wasel-ledger/wasel-ledger/internal/orders"
	"github.com/wasel-ledger/wasel-ledger/internal/remittance"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

const (
	sheetSummary     = "Summary"
	sheetOrders      = "Delivered Orders"
	sheetRemittances = "Remittances"
)

// Statement bundles everything one driver statement covers.
type Statement struct {
	Summary     ledger.Summary
	Orders      []orders.Order
	Remittances []remittance.Record
	GeneratedAt time.Time
}

// BuildWorkbook renders a statement into an xlsx workbook. Callers own
// closing the returned file.
func BuildWorkbook(st Statement) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := writeSummarySheet(f, st); err != nil {
		return nil, err
	}
	if err := writeOrdersSheet(f, st.Orders); err != nil {
		return nil, err
	}
	if err := writeRemittancesSheet(f, st.Remittances); err != nil {
		return nil, err
	}
	// NewFile seeds Sheet1; the summary replaces it as the landing sheet.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	index, err := f.GetSheetIndex(sheetSummary)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	return f, nil
}

func writeSummarySheet(f *excelize.File, st Statement) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return err
	}
	rows := [][2]string{
		{"Driver", fmt.Sprintf("%d", st.Summary.DriverID)},
		{"Country", st.Summary.Country},
		{"Generated", st.GeneratedAt.Format(time.RFC3339)},
		{"Collected", shared.MoneyString(st.Summary.Collected)},
		{"Delivered to company", shared.MoneyString(st.Summary.DeliveredToCompany)},
		{"Awaiting final approval", shared.MoneyString(st.Summary.AwaitingFinalApproval)},
		{"Pending to company", shared.MoneyString(st.Summary.PendingToCompany)},
		{"Over-remitted", shared.MoneyString(st.Summary.OverRemitted)},
		{"Driver commission", shared.MoneyString(st.Summary.DriverCommission)},
		{"Paid commission", shared.MoneyString(st.Summary.PaidCommission)},
		{"Pending commission", shared.MoneyString(st.Summary.PendingCommission)},
		{"Delivered orders", fmt.Sprintf("%d", st.Summary.DeliveredOrders)},
	}
	for i, row := range rows {
		if err := f.SetCellValue(sheetSummary, fmt.Sprintf("A%d", i+1), row[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(sheetSummary, fmt.Sprintf("B%d", i+1), row[1]); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetSummary, "A", "B", 28)
}

func writeOrdersSheet(f *excelize.File, list []orders.Order) error {
	if _, err := f.NewSheet(sheetOrders); err != nil {
		return err
	}
	headers := []string{"Order ID", "Delivered At", "Collected", "Currency", "Country", "Commission Applied", "Commission"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetOrders, cell, header); err != nil {
			return err
		}
	}
	for i, order := range list {
		row := i + 2
		deliveredAt := ""
		if order.DeliveredAt != nil {
			deliveredAt = order.DeliveredAt.Format(time.RFC3339)
		}
		commission := ""
		if order.CommissionAmount != nil {
			commission = shared.MoneyString(*order.CommissionAmount)
		}
		values := []any{order.ID, deliveredAt, shared.MoneyString(order.CollectedAmount), order.Currency, order.Country, order.CommissionApplied, commission}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetOrders, cell, value); err != nil {
				return err
			}
		}
	}
	return f.SetColWidth(sheetOrders, "A", "G", 20)
}

func writeRemittancesSheet(f *excelize.File, list []remittance.Record) error {
	if _, err := f.NewSheet(sheetRemittances); err != nil {
		return err
	}
	headers := []string{"ID", "Amount", "Currency", "Method", "Status", "Settlement Ref", "Created At", "Accepted At"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetRemittances, cell, header); err != nil {
			return err
		}
	}
	for i, rec := range list {
		row := i + 2
		acceptedAt := ""
		if rec.AcceptedAt != nil {
			acceptedAt = rec.AcceptedAt.Format(time.RFC3339)
		}
		values := []any{rec.ID.String(), shared.MoneyString(rec.Amount), rec.Currency, string(rec.Method), string(rec.Status), rec.SettlementRef, rec.CreatedAt.Format(time.RFC3339), acceptedAt}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetRemittances, cell, value); err != nil {
				return err
			}
		}
	}
	return f.SetColWidth(sheetRemittances, "A", "H", 22)
}
