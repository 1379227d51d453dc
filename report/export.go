package report

import (
	"fmt"

	"github.com/tealeg/xlsx/v3"
)

// ExportXlsx writes every report matching the filter into a spreadsheet,
// one row per report.
func (st *Store) ExportXlsx(path string, filter Filter) (int, error) {
	iter, err := st.List(filter)
	if err != nil {
		return 0, err
	}

	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("reports")
	if err != nil {
		return 0, err
	}

	header := sheet.AddRow()
	for _, title := range []string{"id", "created at", "tool", "root", "file", "language", "errors", "warnings", "content"} {
		header.AddCell().SetString(title)
	}

	count := 0
	for iter.Next() {
		report, err := iter.Value()
		if err != nil {
			return count, err
		}

		row := sheet.AddRow()
		row.AddCell().SetInt(report.Id)
		createdAt := ""
		if report.CreatedAt != nil && !report.CreatedAt.IsZero() {
			createdAt = report.CreatedAt.Format("2006-01-02 15:04:05")
		}
		row.AddCell().SetString(createdAt)
		row.AddCell().SetString(report.Tool)
		row.AddCell().SetString(report.Root)
		row.AddCell().SetString(report.FilePath)
		row.AddCell().SetString(report.Language)
		row.AddCell().SetInt(report.Errors)
		row.AddCell().SetInt(report.Warnings)
		row.AddCell().SetString(report.Content)
		count++
	}

	if err := wb.Save(path); err != nil {
		return count, fmt.Errorf("failed to save %s: %w", path, err)
	}
	return count, nil
}
