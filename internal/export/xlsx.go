// Package export renders queue snapshots as Excel workbooks for operators.
package export

import (
	"fmt"
	"io"
	"time"

	"ridesched/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetQueue       = "Queue"
	SheetStatistics  = "Statistics"
	SheetDeadLetters = "Abandoned"
)

var queueHeaders = []string{
	"ID", "Type", "Ride", "Row", "Requested by", "Age (min)", "Attempts", "Next retry", "Status", "Last error",
}

// Report is everything written to one workbook.
type Report struct {
	GeneratedAt time.Time
	Items       []models.DisplayItem
	Statistics  models.Statistics
	DeadLetters []models.QueueItem
}

// WriteQueue writes report as an XLSX workbook to w.
func WriteQueue(w io.Writer, report Report) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetQueue)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := writeQueueSheet(f, report.Items); err != nil {
		return err
	}
	if err := writeStatisticsSheet(f, report); err != nil {
		return err
	}
	if len(report.DeadLetters) > 0 {
		if err := writeDeadLetterSheet(f, report.DeadLetters); err != nil {
			return err
		}
	}

	_ = f.DeleteSheet("Sheet1")

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func writeQueueSheet(f *excelize.File, items []models.DisplayItem) error {
	if err := writeHeaderRow(f, SheetQueue, queueHeaders); err != nil {
		return err
	}

	styles := make(map[models.Status]int)
	for status, color := range map[models.Status]string{
		models.StatusPending:  "#C6EFCE",
		models.StatusRetrying: "#FFEB9C",
		models.StatusFailed:   "#FFC7CE",
	} {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("error creating style: %w", err)
		}
		styles[status] = style
	}

	for i, item := range items {
		row := i + 2
		values := []interface{}{
			item.ID, item.Type, item.RideTitle, item.RowNum, item.UserEmail,
			item.AgeMinutes, item.AttemptCount, item.NextRetryAt, string(item.Status), item.LastError,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(SheetQueue, cell, v)
		}

		statusCell, _ := excelize.CoordinatesToCellName(9, row)
		if style, ok := styles[item.Status]; ok {
			_ = f.SetCellStyle(SheetQueue, statusCell, statusCell, style)
		}
	}

	_ = f.SetColWidth(SheetQueue, "A", "A", 38)
	_ = f.SetColWidth(SheetQueue, "C", "C", 30)
	_ = f.SetColWidth(SheetQueue, "E", "E", 28)
	_ = f.SetColWidth(SheetQueue, "H", "H", 24)
	_ = f.SetColWidth(SheetQueue, "J", "J", 50)
	return nil
}

func writeStatisticsSheet(f *excelize.File, report Report) error {
	if _, err := f.NewSheet(SheetStatistics); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	generated := ""
	if !report.GeneratedAt.IsZero() {
		generated = report.GeneratedAt.UTC().Format(time.RFC3339)
	}
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Generated at", generated},
		{"Total items", report.Statistics.TotalItems},
		{"Due now", report.Statistics.DueNow},
		{"Younger than 1 hour", report.Statistics.ByAge.LessThan1Hour},
		{"Younger than 24 hours", report.Statistics.ByAge.LessThan24Hours},
		{"24 hours or older", report.Statistics.ByAge.MoreThan24Hours},
		{"Abandoned (listed)", len(report.DeadLetters)},
	}
	for i, r := range rows {
		_ = f.SetCellValue(SheetStatistics, fmt.Sprintf("A%d", i+1), r[0])
		_ = f.SetCellValue(SheetStatistics, fmt.Sprintf("B%d", i+1), r[1])
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetCellStyle(SheetStatistics, "A1", "B1", style)
	}
	_ = f.SetColWidth(SheetStatistics, "A", "A", 25)
	_ = f.SetColWidth(SheetStatistics, "B", "B", 25)
	return nil
}

func writeDeadLetterSheet(f *excelize.File, items []models.QueueItem) error {
	if _, err := f.NewSheet(SheetDeadLetters); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	headers := []string{"ID", "Type", "Ride", "URL", "Enqueued at", "Attempts", "Last error"}
	if err := writeHeaderRow(f, SheetDeadLetters, headers); err != nil {
		return err
	}

	for i, item := range items {
		row := i + 2
		values := []interface{}{
			item.ID, string(item.Type), item.RideTitle, item.RideURL,
			item.EnqueuedAt.UTC().Format(time.RFC3339), item.AttemptCount, item.LastError,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(SheetDeadLetters, cell, v)
		}
	}
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
	return nil
}
