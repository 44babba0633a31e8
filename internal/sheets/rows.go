package sheets

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// InventoryItem is one row of the Inventory tab.
type InventoryItem struct {
	RowIndex    int
	Name        string
	Quantity    int
	Cost        decimal.Decimal
	Date        string
	AlertStatus string
}

// Sale is one row of the Sales tab.
type Sale struct {
	RowIndex    int
	ItemName    string
	Quantity    int
	Price       decimal.Decimal
	Date        string
	PaymentMode string
	Customer    string
}

// Expense is one row of the Ledger tab.
type Expense struct {
	RowIndex    int
	Description string
	Amount      decimal.Decimal
	Date        string
	Category    string
}

// KhataEntry is one row of the Khata tab.
type KhataEntry struct {
	RowIndex    int
	Customer    string
	Amount      decimal.Decimal
	Reason      string
	Date        string
	Status      string
	Phone       string
	AlertStatus string
}

// StaffMember is one row of the Staff tab.
type StaffMember struct {
	RowIndex    int
	Name        string
	Role        string
	Shift       string
	Status      string
	Phone       string
	AlertStatus string
}

// Supplier is one row of the Suppliers tab.
type Supplier struct {
	RowIndex int
	ItemName string
	Name     string
	Phone    string
}

// ParseInventory parses Inventory rows. Rows with fewer than two cells or an
// unparsable quantity are skipped.
func ParseInventory(data [][]interface{}) []InventoryItem {
	var items []InventoryItem
	for i, row := range dataRows(data) {
		rowIndex := i + 2
		if !isValidSheetRow(TabInventory, row, rowIndex, 2) {
			continue
		}
		qty, ok := ParseQuantity(extractStringField(row, 1))
		if !ok {
			log.Debug().Int("row", rowIndex).Str("tab", TabInventory).Msg("Skipping row with unparsable quantity")
			continue
		}
		cost, _ := ParseAmount(extractStringField(row, 2))
		items = append(items, InventoryItem{
			RowIndex:    rowIndex,
			Name:        extractStringField(row, 0),
			Quantity:    qty,
			Cost:        cost,
			Date:        extractStringField(row, 3),
			AlertStatus: extractStringField(row, 4),
		})
	}
	return items
}

// ParseSales parses Sales rows; unparsable numbers read as zero.
func ParseSales(data [][]interface{}) []Sale {
	var sales []Sale
	for i, row := range dataRows(data) {
		rowIndex := i + 2
		if !isValidSheetRow(TabSales, row, rowIndex, 1) {
			continue
		}
		qty, _ := ParseQuantity(extractStringField(row, 1))
		price, _ := ParseAmount(extractStringField(row, 2))
		sales = append(sales, Sale{
			RowIndex:    rowIndex,
			ItemName:    extractStringField(row, 0),
			Quantity:    qty,
			Price:       price,
			Date:        extractStringField(row, 3),
			PaymentMode: extractStringField(row, 4),
			Customer:    extractStringField(row, 5),
		})
	}
	return sales
}

// ParseLedger parses Ledger rows; unparsable amounts read as zero.
func ParseLedger(data [][]interface{}) []Expense {
	var out []Expense
	for i, row := range dataRows(data) {
		rowIndex := i + 2
		if !isValidSheetRow(TabLedger, row, rowIndex, 2) {
			continue
		}
		amount, _ := ParseAmount(extractStringField(row, 1))
		out = append(out, Expense{
			RowIndex:    rowIndex,
			Description: extractStringField(row, 0),
			Amount:      amount,
			Date:        extractStringField(row, 2),
			Category:    extractStringField(row, 3),
		})
	}
	return out
}

// ParseKhata parses Khata rows. Rows with fewer than five cells or an
// unparsable amount are skipped.
func ParseKhata(data [][]interface{}) []KhataEntry {
	var out []KhataEntry
	for i, row := range dataRows(data) {
		rowIndex := i + 2
		if !isValidSheetRow(TabKhata, row, rowIndex, 5) {
			continue
		}
		amount, ok := ParseAmount(extractStringField(row, 1))
		if !ok {
			log.Debug().Int("row", rowIndex).Str("tab", TabKhata).Msg("Skipping row with unparsable amount")
			continue
		}
		out = append(out, KhataEntry{
			RowIndex:    rowIndex,
			Customer:    extractStringField(row, 0),
			Amount:      amount,
			Reason:      extractStringField(row, 2),
			Date:        extractStringField(row, 3),
			Status:      extractStringField(row, 4),
			Phone:       extractStringField(row, 5),
			AlertStatus: extractStringField(row, 6),
		})
	}
	return out
}

// ParseStaff parses Staff rows. Rows with fewer than four cells are skipped.
func ParseStaff(data [][]interface{}) []StaffMember {
	var out []StaffMember
	for i, row := range dataRows(data) {
		rowIndex := i + 2
		if !isValidSheetRow(TabStaff, row, rowIndex, 4) {
			continue
		}
		out = append(out, StaffMember{
			RowIndex:    rowIndex,
			Name:        extractStringField(row, 0),
			Role:        extractStringField(row, 1),
			Shift:       extractStringField(row, 2),
			Status:      extractStringField(row, 3),
			Phone:       extractStringField(row, 4),
			AlertStatus: extractStringField(row, 5),
		})
	}
	return out
}

// ParseSuppliers parses Suppliers rows.
func ParseSuppliers(data [][]interface{}) []Supplier {
	var out []Supplier
	for i, row := range dataRows(data) {
		rowIndex := i + 2
		if !isValidSheetRow(TabSuppliers, row, rowIndex, 2) {
			continue
		}
		out = append(out, Supplier{
			RowIndex: rowIndex,
			ItemName: extractStringField(row, 0),
			Name:     extractStringField(row, 1),
			Phone:    extractStringField(row, 2),
		})
	}
	return out
}

// Values returns the row as written to the Inventory tab.
func (it InventoryItem) Values() []interface{} {
	return []interface{}{it.Name, it.Quantity, it.Cost.String(), it.Date, it.AlertStatus}
}

func (s Sale) Values() []interface{} {
	return []interface{}{s.ItemName, s.Quantity, s.Price.String(), s.Date, s.PaymentMode, s.Customer}
}

func (e Expense) Values() []interface{} {
	return []interface{}{e.Description, e.Amount.String(), e.Date, e.Category}
}

func (k KhataEntry) Values() []interface{} {
	return []interface{}{k.Customer, k.Amount.String(), k.Reason, k.Date, k.Status, k.Phone, k.AlertStatus}
}

// ParseQuantity reads a whole-number quantity. "12", " 12 " and "12.0" all
// parse; fractional quantities are rounded to the nearest unit.
func ParseQuantity(s string) (int, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}

// ParseAmount reads a money cell, tolerating currency markers and thousands
// separators ("₹1,200.50", "Rs 300").
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"₹", "Rs.", "Rs", "INR"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// dataRows drops the header row.
func dataRows(data [][]interface{}) [][]interface{} {
	if len(data) <= 1 {
		return nil
	}
	return data[1:]
}

// isValidSheetRow checks if a row has sufficient columns
func isValidSheetRow(tab string, row []interface{}, rowNum, minColumns int) bool {
	if len(row) < minColumns || strings.TrimSpace(extractStringField(row, 0)) == "" {
		log.Debug().
			Str("tab", tab).
			Int("row", rowNum).
			Int("columns", len(row)).
			Msg("Skipping row with insufficient columns")
		return false
	}
	return true
}

// extractStringField safely extracts a string field from a row at the given index
func extractStringField(row []interface{}, index int) string {
	if len(row) > index && row[index] != nil {
		return strings.TrimSpace(fmt.Sprintf("%v", row[index]))
	}
	return ""
}
