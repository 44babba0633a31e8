package sheets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Workbook is a Spreadsheet backed by Google Sheets.
type Workbook struct {
	client *Client
	id     string
	url    string

	mu   sync.Mutex
	tabs map[string]bool
}

var _ Spreadsheet = (*Workbook)(nil)

// OpenByID opens an existing spreadsheet.
func OpenByID(ctx context.Context, client *Client, spreadsheetID string) (*Workbook, error) {
	url, titles, err := client.Metadata(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}

	w := &Workbook{client: client, id: spreadsheetID, url: url}
	w.setTabs(titles)
	log.Debug().Str("spreadsheet_id", spreadsheetID).Strs("tabs", titles).Msg("Opened spreadsheet")
	return w, nil
}

// OpenOrCreate opens the spreadsheet called name, creating it with every tab
// and header row when it does not exist yet.
func OpenOrCreate(ctx context.Context, client *Client, name string) (*Workbook, error) {
	id, err := client.FindByName(ctx, name)
	if err == nil {
		w, err := OpenByID(ctx, client, id)
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", w.url).Msg("Database found")
		return w, nil
	}
	if !errors.Is(err, ErrSpreadsheetNotFound) {
		return nil, err
	}

	log.Info().Str("name", name).Msg("Creating new database")
	titles := make([]string, 0, len(Schema))
	for _, ts := range Schema {
		titles = append(titles, ts.Title)
	}
	id, url, err := client.Create(ctx, name, titles)
	if err != nil {
		return nil, err
	}

	w := &Workbook{client: client, id: id, url: url}
	w.setTabs(titles)
	for _, ts := range Schema {
		if err := w.AppendRow(ctx, ts.Title, headerRow(ts.Header)); err != nil {
			return nil, fmt.Errorf("writing %s header: %w", ts.Title, err)
		}
	}

	log.Info().Str("url", url).Msg("New database created with all tabs")
	return w, nil
}

func (w *Workbook) ID() string  { return w.id }
func (w *Workbook) URL() string { return w.url }

func (w *Workbook) Tabs(ctx context.Context) ([]string, error) {
	if err := w.refreshTabs(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	titles := make([]string, 0, len(w.tabs))
	for t := range w.tabs {
		titles = append(titles, t)
	}
	return titles, nil
}

func (w *Workbook) AddTab(ctx context.Context, title string, header []string) error {
	if err := w.client.AddSheet(ctx, w.id, title); err != nil {
		return err
	}
	w.mu.Lock()
	w.tabs[title] = true
	w.mu.Unlock()

	if len(header) > 0 {
		return w.AppendRow(ctx, title, headerRow(header))
	}
	return nil
}

func (w *Workbook) ReadTab(ctx context.Context, tab string) ([][]interface{}, error) {
	if err := w.requireTab(ctx, tab); err != nil {
		return nil, err
	}
	rows, err := w.client.ReadSheet(ctx, w.id, a1Range(tab, "A1:Z"))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", tab, err)
	}
	return rows, nil
}

func (w *Workbook) AppendRow(ctx context.Context, tab string, row []interface{}) error {
	if err := w.requireTab(ctx, tab); err != nil {
		return err
	}
	if err := w.client.AppendRows(ctx, w.id, a1Range(tab, "A1"), [][]interface{}{row}); err != nil {
		return fmt.Errorf("appending to %s: %w", tab, err)
	}
	return nil
}

func (w *Workbook) UpdateCell(ctx context.Context, tab, column string, row int, value interface{}) error {
	if err := w.requireTab(ctx, tab); err != nil {
		return err
	}
	cell := a1Range(tab, fmt.Sprintf("%s%d", column, row))
	if err := w.client.UpdateRange(ctx, w.id, cell, [][]interface{}{{value}}); err != nil {
		return fmt.Errorf("updating %s: %w", cell, err)
	}
	return nil
}

// requireTab checks the cached tab list, refreshing it once before giving up,
// so tabs added by hand in the browser are picked up.
func (w *Workbook) requireTab(ctx context.Context, tab string) error {
	w.mu.Lock()
	ok := w.tabs[tab]
	w.mu.Unlock()
	if ok {
		return nil
	}

	if err := w.refreshTabs(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.tabs[tab] {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tab)
	}
	return nil
}

func (w *Workbook) refreshTabs(ctx context.Context) error {
	_, titles, err := w.client.Metadata(ctx, w.id)
	if err != nil {
		return err
	}
	w.setTabs(titles)
	return nil
}

func (w *Workbook) setTabs(titles []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tabs = make(map[string]bool, len(titles))
	for _, t := range titles {
		w.tabs[t] = true
	}
}
