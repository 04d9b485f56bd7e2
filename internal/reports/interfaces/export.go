package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	reports "gasgrid-cloud/internal/reports/application"
	telemetry "gasgrid-cloud/internal/telemetry/domain"
)

var readingColumns = []string{
	telemetry.RegisterDifferentialPressure,
	telemetry.RegisterStaticPressure,
	telemetry.RegisterTemperature,
	telemetry.RegisterFlowRate,
	telemetry.RegisterVolume,
	telemetry.RegisterBattery,
	telemetry.RegisterMaxStaticPressure,
	telemetry.RegisterMinStaticPressure,
}

// BuildReportPDF renders a device report as PDF.
func BuildReportPDF(report *reports.Report) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Device Telemetry Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s (%s)", report.Device.Name, report.Device.ClientID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Location: %s", report.Device.Location))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s to %s", report.From.Format(time.RFC3339), report.To.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d, Alarms: %d", len(report.Readings), len(report.Alarms)))
	pdf.Ln(8)

	// Readings table
	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(36, 6, "Timestamp", "1", 0, "C", false, 0, "")
	for _, code := range readingColumns {
		pdf.CellFormat(28, 6, telemetry.RegisterLabel(code), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, reading := range report.Readings {
		pdf.CellFormat(36, 6, reading.Timestamp.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		values := reading.Parameters()
		for _, code := range readingColumns {
			cell := ""
			if value, ok := values[code]; ok {
				cell = fmt.Sprintf("%.2f", value)
			}
			pdf.CellFormat(28, 6, cell, "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(report.Alarms) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Alarms")
		pdf.Ln(7)
		pdf.SetFont("Arial", "B", 8)
		pdf.CellFormat(36, 6, "Triggered", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Parameter", "1", 0, "C", false, 0, "")
		pdf.CellFormat(24, 6, "Severity", "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, "Value", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "Acknowledged", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
		for _, alarm := range report.Alarms {
			acked := "no"
			if alarm.Acknowledged {
				acked = alarm.AckedBy
			}
			pdf.CellFormat(36, 6, alarm.TriggeredAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
			pdf.CellFormat(40, 6, telemetry.RegisterLabel(alarm.Parameter), "1", 0, "C", false, 0, "")
			pdf.CellFormat(24, 6, string(alarm.Severity), "1", 0, "C", false, 0, "")
			pdf.CellFormat(28, 6, fmt.Sprintf("%.2f", alarm.Value), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 6, acked, "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportXLSX renders a device report as XLSX with summary,
// readings and alarms sheets.
func BuildReportXLSX(report *reports.Report) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	readingsSheet := "readings"
	alarmsSheet := "alarms"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(readingsSheet)
	f.NewSheet(alarmsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Device Telemetry Report")
	_ = f.SetCellValue(summarySheet, "A3", "Device")
	_ = f.SetCellValue(summarySheet, "B3", report.Device.Name)
	_ = f.SetCellValue(summarySheet, "A4", "Client ID")
	_ = f.SetCellValue(summarySheet, "B4", report.Device.ClientID)
	_ = f.SetCellValue(summarySheet, "A5", "Location")
	_ = f.SetCellValue(summarySheet, "B5", report.Device.Location)
	_ = f.SetCellValue(summarySheet, "A6", "From")
	_ = f.SetCellValue(summarySheet, "B6", report.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A7", "To")
	_ = f.SetCellValue(summarySheet, "B7", report.To.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A8", "Readings")
	_ = f.SetCellValue(summarySheet, "B8", len(report.Readings))
	_ = f.SetCellValue(summarySheet, "A9", "Alarms")
	_ = f.SetCellValue(summarySheet, "B9", len(report.Alarms))

	_ = f.SetCellValue(readingsSheet, "A1", "Timestamp")
	for i, code := range readingColumns {
		cell, _ := excelize.CoordinatesToCellName(i+2, 1)
		_ = f.SetCellValue(readingsSheet, cell, telemetry.RegisterLabel(code))
	}
	for i, reading := range report.Readings {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), reading.Timestamp.Format("2006-01-02 15:04:05"))
		values := reading.Parameters()
		for j, code := range readingColumns {
			value, ok := values[code]
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(j+2, row)
			_ = f.SetCellValue(readingsSheet, cell, value)
		}
	}

	_ = f.SetCellValue(alarmsSheet, "A1", "Triggered")
	_ = f.SetCellValue(alarmsSheet, "B1", "Parameter")
	_ = f.SetCellValue(alarmsSheet, "C1", "Severity")
	_ = f.SetCellValue(alarmsSheet, "D1", "Value")
	_ = f.SetCellValue(alarmsSheet, "E1", "Acknowledged By")
	for i, alarm := range report.Alarms {
		row := i + 2
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("A%d", row), alarm.TriggeredAt.Format("2006-01-02 15:04:05"))
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("B%d", row), telemetry.RegisterLabel(alarm.Parameter))
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("C%d", row), string(alarm.Severity))
		_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("D%d", row), alarm.Value)
		if alarm.Acknowledged {
			_ = f.SetCellValue(alarmsSheet, fmt.Sprintf("E%d", row), alarm.AckedBy)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
