package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTabNotFound is returned when a tab does not exist in the spreadsheet.
var ErrTabNotFound = errors.New("tab not found")

// Spreadsheet is the row-oriented view of one tenant's spreadsheet used by
// the webhook, the monitor, and the dashboard.
//
// Rows are addressed by their sheet row number; the header is row 1.
type Spreadsheet interface {
	ID() string
	URL() string
	Tabs(ctx context.Context) ([]string, error)
	AddTab(ctx context.Context, title string, header []string) error
	ReadTab(ctx context.Context, tab string) ([][]interface{}, error)
	AppendRow(ctx context.Context, tab string, row []interface{}) error
	UpdateCell(ctx context.Context, tab, column string, row int, value interface{}) error
}

// EnsureSchema adds every tab from Schema that is missing and reports the
// titles it created.
func EnsureSchema(ctx context.Context, s Spreadsheet) ([]string, error) {
	existing, err := s.Tabs(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}

	var created []string
	for _, ts := range Schema {
		if have[ts.Title] {
			continue
		}
		if err := s.AddTab(ctx, ts.Title, ts.Header); err != nil {
			return created, err
		}
		created = append(created, ts.Title)
	}
	return created, nil
}

// SeedStaff writes the sample staff rows used for demos.
func SeedStaff(ctx context.Context, s Spreadsheet) error {
	samples := [][]interface{}{
		{"Raju", "Helper", "Morning", StaffPresent, "+919999999999", ""},
		{"Shyam", "Manager", "Evening", StaffAbsent, "+918888888888", ""},
	}
	for _, row := range samples {
		if err := s.AppendRow(ctx, TabStaff, row); err != nil {
			return fmt.Errorf("seeding staff: %w", err)
		}
	}
	return nil
}

// a1Range quotes tab titles that need it in A1 notation.
func a1Range(tab, cells string) string {
	if strings.ContainsAny(tab, " '!") {
		tab = "'" + strings.ReplaceAll(tab, "'", "''") + "'"
	}
	return tab + "!" + cells
}
