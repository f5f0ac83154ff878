package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	statement "ownerledger/internal/statement/domain"
)

// BuildStatementPDF renders an owner statement as PDF.
func BuildStatementPDF(stmt *statement.Statement, items []statement.Item) ([]byte, error) {
	if stmt == nil {
		return nil, statement.ErrNilStatement
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Owner Payout Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Owner: %s", stmt.OwnerName))
	pdf.Ln(5)
	if stmt.IsGroup() {
		pdf.Cell(0, 6, fmt.Sprintf("Group: %s", stmt.GroupName))
	} else {
		pdf.Cell(0, 6, fmt.Sprintf("Property: %s", stmt.PropertyID))
	}
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s",
		stmt.PeriodStart.Format("2006-01-02"), stmt.PeriodEnd.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Mode: %s", stmt.Mode))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Version: %d", stmt.Version))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", stmt.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", stmt.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if !stmt.TransferredAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Paid out: %s (transfer %s)", stmt.TransferredAt.Format(time.RFC3339), stmt.TransferID))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Revenue (%s): %.2f", stmt.Currency, stmt.Revenue))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Commission: %.2f", stmt.Commission))
	pdf.Ln(5)
	if stmt.WaiverActive {
		pdf.Cell(0, 6, "Commission waived for this period")
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Tax: %.2f", stmt.Tax))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Expenses: %.2f", stmt.ExpenseTotal))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Gross payout: %.2f", stmt.GrossPayout))
	pdf.Ln(5)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Net payout (%s): %.2f", stmt.Currency, stmt.NetPayout))
	pdf.Ln(8)

	// Items table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Kind", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Description", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Nights", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, item := range items {
		pdf.CellFormat(30, 6, item.Kind, "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, item.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", item.Nights), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", item.Amount), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders an owner statement as XLSX.
func BuildStatementXLSX(stmt *statement.Statement, items []statement.Item) ([]byte, error) {
	if stmt == nil {
		return nil, statement.ErrNilStatement
	}
	f := excelize.NewFile()
	summarySheet := "summary"
	itemsSheet := "items"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(itemsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Owner Payout Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Owner")
	_ = f.SetCellValue(summarySheet, "B3", stmt.OwnerName)
	if stmt.IsGroup() {
		_ = f.SetCellValue(summarySheet, "A4", "Group")
		_ = f.SetCellValue(summarySheet, "B4", stmt.GroupName)
	} else {
		_ = f.SetCellValue(summarySheet, "A4", "Property")
		_ = f.SetCellValue(summarySheet, "B4", stmt.PropertyID)
	}
	_ = f.SetCellValue(summarySheet, "A5", "Period Start")
	_ = f.SetCellValue(summarySheet, "B5", stmt.PeriodStart.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "Period End")
	_ = f.SetCellValue(summarySheet, "B6", stmt.PeriodEnd.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A7", "Mode")
	_ = f.SetCellValue(summarySheet, "B7", string(stmt.Mode))
	_ = f.SetCellValue(summarySheet, "A8", "Version")
	_ = f.SetCellValue(summarySheet, "B8", stmt.Version)
	_ = f.SetCellValue(summarySheet, "A9", "Status")
	_ = f.SetCellValue(summarySheet, "B9", stmt.Status)
	_ = f.SetCellValue(summarySheet, "A10", "Revenue")
	_ = f.SetCellValue(summarySheet, "B10", stmt.Revenue)
	_ = f.SetCellValue(summarySheet, "A11", "Commission")
	_ = f.SetCellValue(summarySheet, "B11", stmt.Commission)
	_ = f.SetCellValue(summarySheet, "A12", "Commission Waived")
	_ = f.SetCellValue(summarySheet, "B12", stmt.WaiverActive)
	_ = f.SetCellValue(summarySheet, "A13", "Tax")
	_ = f.SetCellValue(summarySheet, "B13", stmt.Tax)
	_ = f.SetCellValue(summarySheet, "A14", "Expenses")
	_ = f.SetCellValue(summarySheet, "B14", stmt.ExpenseTotal)
	_ = f.SetCellValue(summarySheet, "A15", "Gross Payout")
	_ = f.SetCellValue(summarySheet, "B15", stmt.GrossPayout)
	_ = f.SetCellValue(summarySheet, "A16", "Net Payout")
	_ = f.SetCellValue(summarySheet, "B16", stmt.NetPayout)
	_ = f.SetCellValue(summarySheet, "A17", "Currency")
	_ = f.SetCellValue(summarySheet, "B17", stmt.Currency)

	_ = f.SetCellValue(itemsSheet, "A1", "Kind")
	_ = f.SetCellValue(itemsSheet, "B1", "Description")
	_ = f.SetCellValue(itemsSheet, "C1", "Reservation")
	_ = f.SetCellValue(itemsSheet, "D1", "Nights")
	_ = f.SetCellValue(itemsSheet, "E1", "Amount")
	for i, item := range items {
		row := i + 2
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("A%d", row), item.Kind)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("B%d", row), item.Description)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("C%d", row), item.ReservationID)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("D%d", row), item.Nights)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("E%d", row), item.Amount)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
