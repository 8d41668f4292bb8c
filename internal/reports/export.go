package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// BuildReportPDF renders a monthly report as a PDF.
func BuildReportPDF(report *Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Monthly Consumption Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Cycle: %s to %s", report.Cycle.Start.Format("2006-01-02"), report.Cycle.End.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Tariff: %s", report.RateCode))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("Total Energy (kWh): %.2f", report.TotalKWh))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Cost: %.2f", report.Cost.Total))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Fixed Charge: %.2f", report.Cost.FixedCharge))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("CO2 (kg): %.2f", report.CO2Kg))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Equivalent Trees: %.4f", report.Trees))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Tier", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "kWh", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range report.Cost.Lines {
		pdf.CellFormat(50, 6, line.Name, "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, fmt.Sprintf("%.2f", line.KWh), "1", 0, "R", false, 0, "")
		pdf.CellFormat(45, 6, fmt.Sprintf("%.2f", line.Subtotal), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Day", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Energy (kWh)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, day := range report.Days {
		pdf.CellFormat(50, 6, day.Date.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.4f", day.KWh), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportXLSX renders a monthly report as an XLSX workbook.
func BuildReportXLSX(report *Report) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	daysSheet := "days"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(daysSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Monthly Consumption Report")
	_ = f.SetCellValue(summarySheet, "A3", "Cycle Start")
	_ = f.SetCellValue(summarySheet, "B3", report.Cycle.Start.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A4", "Cycle End")
	_ = f.SetCellValue(summarySheet, "B4", report.Cycle.End.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A5", "Tariff")
	_ = f.SetCellValue(summarySheet, "B5", report.RateCode)
	_ = f.SetCellValue(summarySheet, "A6", "Total Energy (kWh)")
	_ = f.SetCellValue(summarySheet, "B6", report.TotalKWh)
	_ = f.SetCellValue(summarySheet, "A7", "Fixed Charge")
	_ = f.SetCellValue(summarySheet, "B7", report.Cost.FixedCharge)
	_ = f.SetCellValue(summarySheet, "A8", "Total Cost")
	_ = f.SetCellValue(summarySheet, "B8", report.Cost.Total)
	_ = f.SetCellValue(summarySheet, "A9", "CO2 (kg)")
	_ = f.SetCellValue(summarySheet, "B9", report.CO2Kg)
	_ = f.SetCellValue(summarySheet, "A10", "Equivalent Trees")
	_ = f.SetCellValue(summarySheet, "B10", report.Trees)

	_ = f.SetCellValue(daysSheet, "A1", "Day")
	_ = f.SetCellValue(daysSheet, "B1", "Energy (kWh)")
	for i, day := range report.Days {
		row := i + 2
		_ = f.SetCellValue(daysSheet, fmt.Sprintf("A%d", row), day.Date.Format("2006-01-02"))
		_ = f.SetCellValue(daysSheet, fmt.Sprintf("B%d", row), day.KWh)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
