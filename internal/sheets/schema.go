package sheets

// Tab names of the OpsAgent spreadsheet.
const (
	TabInventory = "Inventory"
	TabSales     = "Sales"
	TabLedger    = "Ledger"
	TabKhata     = "Khata"
	TabStaff     = "Staff"
	TabSuppliers = "Suppliers"
)

// AlertSent is the flag value the monitor writes once an alert went out.
const AlertSent = "SENT"

// DateLayout is the format used for every date cell written by OpsAgent.
const DateLayout = "2006-01-02"

// Column letters. Column order is the only schema the sheet has.
const (
	InventoryColQuantity = "B"
	InventoryColCost     = "C"
	InventoryColDate     = "D"
	InventoryColAlert    = "E"

	KhataColStatus = "E"
	KhataColAlert  = "G"

	StaffColStatus = "D"
	StaffColAlert  = "F"
)

// Khata statuses.
const (
	KhataPending = "Pending"
	KhataPaid    = "Paid"
)

// Staff statuses.
const (
	StaffPresent = "Present"
	StaffAbsent  = "Absent"
)

// TabSpec describes one tab and its header row.
type TabSpec struct {
	Title  string
	Header []string
}

// Schema lists every tab in creation order.
var Schema = []TabSpec{
	{Title: TabInventory, Header: []string{"Item Name", "Quantity", "Cost", "Date", "Alert Status"}},
	{Title: TabSales, Header: []string{"Item Name", "Quantity", "Sold Price", "Date", "Payment Mode", "Customer"}},
	{Title: TabLedger, Header: []string{"Expense Name", "Amount", "Date", "Category"}},
	{Title: TabKhata, Header: []string{"Customer", "Amount", "Reason", "Date", "Status", "Phone", "AlertStatus"}},
	{Title: TabStaff, Header: []string{"Name", "Role", "Shift", "Status", "Phone", "AlertStatus"}},
	{Title: TabSuppliers, Header: []string{"Item Name", "Supplier Name", "Phone Number"}},
}

// columnIndex converts a column letter ("A", "AB") to a zero-based index.
func columnIndex(column string) int {
	idx := 0
	for _, r := range column {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		idx = idx*26 + int(r-'A'+1)
	}
	return idx - 1
}

func headerRow(header []string) []interface{} {
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	return row
}
