package sheets

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Spreadsheet used for offline demos and tests.
// Cells read back as strings with trailing empty cells trimmed, the way the
// Sheets API returns formatted values.
type Memory struct {
	id string

	mu     sync.Mutex
	tabs   map[string][][]string
	order  []string
	writes int
}

var _ Spreadsheet = (*Memory)(nil)

// NewMemory returns an empty in-memory spreadsheet.
func NewMemory(id string) *Memory {
	return &Memory{id: id, tabs: make(map[string][][]string)}
}

// NewMemoryWithSchema returns an in-memory spreadsheet with every tab and header.
func NewMemoryWithSchema(id string) *Memory {
	m := NewMemory(id)
	for _, ts := range Schema {
		m.addTab(ts.Title, ts.Header)
	}
	return m
}

func (m *Memory) ID() string  { return m.id }
func (m *Memory) URL() string { return "memory://" + m.id }

func (m *Memory) Tabs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out, nil
}

func (m *Memory) AddTab(ctx context.Context, title string, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tabs[title]; ok {
		return fmt.Errorf("tab %s already exists", title)
	}
	m.addTab(title, header)
	return nil
}

func (m *Memory) addTab(title string, header []string) {
	var rows [][]string
	if len(header) > 0 {
		rows = append(rows, append([]string(nil), header...))
	}
	m.tabs[title] = rows
	m.order = append(m.order, title)
}

func (m *Memory) ReadTab(ctx context.Context, tab string) ([][]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tabs[tab]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, tab)
	}

	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		end := len(row)
		for end > 0 && row[end-1] == "" {
			end--
		}
		cells := make([]interface{}, end)
		for j := 0; j < end; j++ {
			cells[j] = row[j]
		}
		out[i] = cells
	}
	return out, nil
}

func (m *Memory) AppendRow(ctx context.Context, tab string, row []interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tabs[tab]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tab)
	}
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = formatCell(v)
	}
	m.tabs[tab] = append(rows, cells)
	m.writes++
	return nil
}

func (m *Memory) UpdateCell(ctx context.Context, tab, column string, row int, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tabs[tab]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tab)
	}
	if row < 1 {
		return fmt.Errorf("invalid row %d", row)
	}
	col := columnIndex(column)
	if col < 0 {
		return fmt.Errorf("invalid column %q", column)
	}

	for len(rows) < row {
		rows = append(rows, nil)
	}
	cells := rows[row-1]
	for len(cells) <= col {
		cells = append(cells, "")
	}
	cells[col] = formatCell(value)
	rows[row-1] = cells
	m.tabs[tab] = rows
	m.writes++
	return nil
}

// Writes counts appends and cell updates since creation.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Cell returns the string value at column/row, or "" when out of range.
func (m *Memory) Cell(tab, column string, row int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tabs[tab]
	col := columnIndex(column)
	if row < 1 || row > len(rows) || col < 0 || col >= len(rows[row-1]) {
		return ""
	}
	return rows[row-1][col]
}

// RowCount returns the number of rows in tab, header included.
func (m *Memory) RowCount(tab string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs[tab])
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
