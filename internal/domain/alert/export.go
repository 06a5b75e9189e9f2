package alert

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/iyacare/iyacare/internal/domain/patient"
)

const exportSheet = "High Risk"

var exportHeaders = []string{"Patient ID", "Name", "Phone", "Risk Level", "Score", "Factors", "Source", "Last Assessed", "Unread Alert"}

var exportWidths = []float64{38, 24, 16, 12, 8, 60, 16, 22, 14}

// WriteHighRiskWorkbook writes an XLSX sheet of alertable patients in
// HighRiskPatients order.
func WriteHighRiskWorkbook(w io.Writer, patients []*patient.Patient, unread map[uuid.UUID]bool) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDE2E1"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, h := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return err
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(exportSheet, col, col, exportWidths[i]); err != nil {
			return err
		}
	}

	for r, p := range HighRiskPatients(patients) {
		assessed := ""
		if p.Risk.LastAssessedAt != nil {
			assessed = p.Risk.LastAssessedAt.UTC().Format("2006-01-02 15:04:05")
		}
		alerted := "no"
		if unread[p.ID] {
			alerted = "yes"
		}
		row := []interface{}{
			p.ID.String(), p.Name, p.Phone, p.Risk.Level, p.Risk.Score,
			strings.Join(p.Risk.Factors, "; "), p.Risk.Source, assessed, alerted,
		}
		for c, v := range row {
			if err := setCell(f, c+1, r+2, v); err != nil {
				return fmt.Errorf("write row %d: %w", r+2, err)
			}
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze panes: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, col, row int, v interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(exportSheet, cell, v)
}
