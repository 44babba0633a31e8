package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"

	"opsagent/internal/sheets"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// WriteWorkbook copies every schema tab of sheet into an XLSX workbook.
// Tabs missing from the spreadsheet are left out.
func WriteWorkbook(ctx context.Context, sheet sheets.Spreadsheet, w io.Writer) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close workbook")
		}
	}()

	const defaultSheet = "Sheet1"
	written := 0
	for _, ts := range sheets.Schema {
		data, err := sheet.ReadTab(ctx, ts.Title)
		if errors.Is(err, sheets.ErrTabNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", ts.Title, err)
		}

		if _, err := f.NewSheet(ts.Title); err != nil {
			return fmt.Errorf("adding %s sheet: %w", ts.Title, err)
		}
		for i, row := range data {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			values := append([]interface{}(nil), row...)
			if err := f.SetSheetRow(ts.Title, cell, &values); err != nil {
				return fmt.Errorf("writing %s row %d: %w", ts.Title, i+1, err)
			}
		}
		written++
	}

	if written > 0 {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return err
		}
		if idx, err := f.GetSheetIndex(sheets.Schema[0].Title); err == nil && idx >= 0 {
			f.SetActiveSheet(idx)
		}
	}

	log.Debug().Int("tabs", written).Str("spreadsheet", sheet.ID()).Msg("Exported workbook")
	_, err := f.WriteTo(w)
	return err
}
