package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// ErrSpreadsheetNotFound is returned when no spreadsheet matches a name or id.
var ErrSpreadsheetNotFound = errors.New("spreadsheet not found")

type Client struct {
	service *sheets.Service
	drive   *drive.Service
}

// NewClient builds Sheets and Drive services from the same client options,
// e.g. option.WithCredentialsFile for a service account or
// option.WithTokenSource for an OAuth user.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	driveService, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Client{
		service: service,
		drive:   driveService,
	}, nil
}

func (c *Client) ReadSheet(ctx context.Context, spreadsheetID, range_ string) ([][]interface{}, error) {
	resp, err := c.service.Spreadsheets.Values.Get(spreadsheetID, range_).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	return resp.Values, nil
}

func (c *Client) AppendRows(ctx context.Context, spreadsheetID, range_ string, rows [][]interface{}) error {
	valueRange := &sheets.ValueRange{
		Values: escapeValues(rows),
	}

	_, err := c.service.Spreadsheets.Values.Append(spreadsheetID, range_, valueRange).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append rows: %w", err)
	}

	return nil
}

func (c *Client) UpdateRange(ctx context.Context, spreadsheetID, range_ string, values [][]interface{}) error {
	valueRange := &sheets.ValueRange{
		Values: escapeValues(values),
	}

	_, err := c.service.Spreadsheets.Values.Update(spreadsheetID, range_, valueRange).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update range: %w", err)
	}

	return nil
}

// escapeValues copies rows, quoting text that USER_ENTERED would otherwise
// parse as a formula or a number. A leading apostrophe keeps the cell literal
// and is not part of the stored value.
func escapeValues(rows [][]interface{}) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		out[i] = make([]interface{}, len(row))
		for j, v := range row {
			if str, ok := v.(string); ok && needsQuote(str) {
				v = "'" + str
			}
			out[i][j] = v
		}
	}
	return out
}

func needsQuote(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '=', '+', '@', '\'':
		return true
	case '-':
		_, err := strconv.ParseFloat(s, 64)
		return err != nil
	}
	return false
}

// Metadata returns the spreadsheet URL and its tab titles.
func (c *Client) Metadata(ctx context.Context, spreadsheetID string) (string, []string, error) {
	resp, err := c.service.Spreadsheets.Get(spreadsheetID).
		Fields("spreadsheetUrl", "sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return "", nil, fmt.Errorf("%w: %s", ErrSpreadsheetNotFound, spreadsheetID)
		}
		return "", nil, fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return resp.SpreadsheetUrl, titles, nil
}

// FindByName returns the id of the first non-trashed spreadsheet called name.
func (c *Client) FindByName(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		strings.ReplaceAll(name, "'", `\'`), spreadsheetMimeType)

	resp, err := c.drive.Files.List().
		Q(query).
		Fields("files(id, name)").
		PageSize(10).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to search drive: %w", err)
	}
	if len(resp.Files) == 0 {
		return "", fmt.Errorf("%w: %s", ErrSpreadsheetNotFound, name)
	}
	return resp.Files[0].Id, nil
}

// Create makes a new spreadsheet with the given tab titles and returns its id and URL.
func (c *Client) Create(ctx context.Context, title string, tabs []string) (string, string, error) {
	ss := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
	}
	for _, tab := range tabs {
		ss.Sheets = append(ss.Sheets, &sheets.Sheet{
			Properties: &sheets.SheetProperties{Title: tab},
		})
	}

	resp, err := c.service.Spreadsheets.Create(ss).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("failed to create spreadsheet: %w", err)
	}
	return resp.SpreadsheetId, resp.SpreadsheetUrl, nil
}

// AddSheet adds an empty tab.
func (c *Client) AddSheet(ctx context.Context, spreadsheetID, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}}},
		},
	}

	if _, err := c.service.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to add sheet %s: %w", title, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
