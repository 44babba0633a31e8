package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsagent/internal/llm"
	"opsagent/internal/sheets"
)

func newTestDispatcher() *Dispatcher {
	d := NewDispatcher(80)
	d.now = func() time.Time { return time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC) }
	return d
}

func seededSheet(t *testing.T) *sheets.Memory {
	t.Helper()
	ctx := context.Background()
	m := sheets.NewMemoryWithSchema("shop")
	require.NoError(t, m.AppendRow(ctx, sheets.TabInventory, []interface{}{"Maggi Noodles", 4, "12", "2026-10-01", sheets.AlertSent}))
	require.NoError(t, m.AppendRow(ctx, sheets.TabInventory, []interface{}{"Parle-G", 40, "5", "2026-10-01", ""}))
	require.NoError(t, m.AppendRow(ctx, sheets.TabStaff, []interface{}{"Raju", "Helper", "Morning", "Present", "+919999999999", ""}))
	require.NoError(t, m.AppendRow(ctx, sheets.TabKhata, []interface{}{"Ramesh", "750", "Groceries", "2026-10-02", "Pending", "", ""}))
	require.NoError(t, m.AppendRow(ctx, sheets.TabKhata, []interface{}{"Suresh", "200", "Milk", "2026-10-02", "Pending", "", ""}))
	require.NoError(t, m.AppendRow(ctx, sheets.TabKhata, []interface{}{"ramesh", "90", "Bread", "2026-10-03", "Paid", "", ""}))
	return m
}

func TestUpdateInventoryFuzzyMatchUpdatesExistingRow(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)
	d := newTestDispatcher()

	res, err := d.Dispatch(ctx, m, llm.Intent{
		Action:   llm.ActionUpdateInventory,
		Item:     "maggi noodle",
		Quantity: 20,
		Amount:   decimal.NewFromInt(13),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, m.RowCount(sheets.TabInventory), "no duplicate row appended")
	assert.Equal(t, "24", m.Cell(sheets.TabInventory, "B", 2))
	assert.Equal(t, "13", m.Cell(sheets.TabInventory, "C", 2))
	assert.Equal(t, "2026-10-19", m.Cell(sheets.TabInventory, "D", 2))
	assert.Equal(t, []string{"Inventory!2"}, res.Rows)
	assert.Contains(t, res.Reply, "24")
}

func TestUpdateInventoryShortNameUpdatesLongerEntry(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)

	res, err := newTestDispatcher().Dispatch(ctx, m, llm.Intent{
		Action:   llm.ActionUpdateInventory,
		Item:     "Maggi",
		Quantity: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, m.RowCount(sheets.TabInventory), "no duplicate Maggi row")
	assert.Equal(t, "Maggi Noodles", m.Cell(sheets.TabInventory, "A", 2))
	assert.Equal(t, "14", m.Cell(sheets.TabInventory, "B", 2))
	assert.Equal(t, []string{"Inventory!2"}, res.Rows)
}

func TestUpdateInventoryAppendsUnknownItem(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)
	d := newTestDispatcher()

	res, err := d.Dispatch(ctx, m, llm.Intent{
		Action:      llm.ActionUpdateInventory,
		Item:        "Tata Salt",
		Quantity:    10,
		Amount:      decimal.NewFromInt(25),
		ResponseMsg: "Tata Salt add kar diya",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, m.RowCount(sheets.TabInventory))
	assert.Equal(t, "Tata Salt", m.Cell(sheets.TabInventory, "A", 4))
	assert.Equal(t, "10", m.Cell(sheets.TabInventory, "B", 4))
	assert.Equal(t, "Tata Salt add kar diya", res.Reply)
}

func TestUpdateInventoryRequiresItem(t *testing.T) {
	_, err := newTestDispatcher().Dispatch(context.Background(), seededSheet(t), llm.Intent{Action: llm.ActionUpdateInventory})
	assert.True(t, errors.Is(err, ErrMissingItem))
}

func TestRecordSaleDebitsInventoryNeverBelowZero(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)
	d := newTestDispatcher()

	_, err := d.Dispatch(ctx, m, llm.Intent{
		Action:   llm.ActionRecordSale,
		Item:     "Maggi",
		Quantity: 3,
		Amount:   decimal.NewFromInt(36),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, m.RowCount(sheets.TabSales))
	assert.Equal(t, "Maggi", m.Cell(sheets.TabSales, "A", 2))
	assert.Equal(t, "36", m.Cell(sheets.TabSales, "C", 2))
	assert.Equal(t, "cash", m.Cell(sheets.TabSales, "E", 2))
	assert.Equal(t, "1", m.Cell(sheets.TabInventory, "B", 2), "short name debits Maggi Noodles")

	_, err = d.Dispatch(ctx, m, llm.Intent{
		Action:   llm.ActionRecordSale,
		Item:     "maggi noodles",
		Quantity: 6,
		Amount:   decimal.NewFromInt(72),
	})
	require.NoError(t, err)
	assert.Equal(t, "0", m.Cell(sheets.TabInventory, "B", 2))
}

func TestRecordSaleOnCreditOpensKhata(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)
	d := newTestDispatcher()

	res, err := d.Dispatch(ctx, m, llm.Intent{
		Action:      llm.ActionRecordSale,
		Item:        "Parle G",
		Quantity:    5,
		Amount:      decimal.NewFromInt(25),
		PaymentMode: "udhaar",
		Customer:    "Mahesh",
	})
	require.NoError(t, err)

	assert.Equal(t, "35", m.Cell(sheets.TabInventory, "B", 3))
	assert.Equal(t, 5, m.RowCount(sheets.TabKhata))
	assert.Equal(t, "Mahesh", m.Cell(sheets.TabKhata, "A", 5))
	assert.Equal(t, "25", m.Cell(sheets.TabKhata, "B", 5))
	assert.Equal(t, sheets.KhataPending, m.Cell(sheets.TabKhata, "E", 5))
	assert.Equal(t, []string{"Sales!+", "Inventory!3", "Khata!+"}, res.Rows)
}

// failingSheet fails appends to one tab.
type failingSheet struct {
	*sheets.Memory
	failTab string
}

func (f failingSheet) AppendRow(ctx context.Context, tab string, row []interface{}) error {
	if tab == f.failTab {
		return errors.New("quota exceeded")
	}
	return f.Memory.AppendRow(ctx, tab, row)
}

func TestRecordSalePartialFailureIsNotRolledBack(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)
	sheet := failingSheet{Memory: m, failTab: sheets.TabKhata}

	res, err := newTestDispatcher().Dispatch(ctx, sheet, llm.Intent{
		Action:      llm.ActionRecordSale,
		Item:        "Parle-G",
		Quantity:    1,
		PaymentMode: "khata",
		Customer:    "Mahesh",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, 2, m.RowCount(sheets.TabSales), "sale stays recorded")
	assert.Equal(t, "39", m.Cell(sheets.TabInventory, "B", 3))
	assert.Equal(t, []string{"Sales!+", "Inventory!3"}, res.Rows)
}

func TestCheckStock(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)
	d := newTestDispatcher()

	res, err := d.Dispatch(ctx, m, llm.Intent{Action: llm.ActionCheckStock, Item: "parle-g", ResponseMsg: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "Parle-G: 40 units bache hain.", res.Reply)

	res, err = d.Dispatch(ctx, m, llm.Intent{Action: llm.ActionCheckStock, Item: "Bournvita"})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "nahi mila")
}

func TestAddExpenseAndKhata(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)
	d := newTestDispatcher()

	_, err := d.Dispatch(ctx, m, llm.Intent{Action: llm.ActionAddExpense, Item: "Electricity", Amount: decimal.NewFromInt(1500)})
	require.NoError(t, err)
	assert.Equal(t, "Electricity", m.Cell(sheets.TabLedger, "A", 2))
	assert.Equal(t, "1500", m.Cell(sheets.TabLedger, "B", 2))
	assert.Equal(t, "General", m.Cell(sheets.TabLedger, "D", 2))

	_, err = d.Dispatch(ctx, m, llm.Intent{Action: llm.ActionAddKhata, Customer: "Dinesh", Amount: decimal.NewFromInt(600), Item: "Rice"})
	require.NoError(t, err)
	assert.Equal(t, "Dinesh", m.Cell(sheets.TabKhata, "A", 5))
	assert.Equal(t, "Rice", m.Cell(sheets.TabKhata, "C", 5))
	assert.Equal(t, sheets.KhataPending, m.Cell(sheets.TabKhata, "E", 5))

	_, err = d.Dispatch(ctx, m, llm.Intent{Action: llm.ActionAddKhata, Amount: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, ErrMissingCustomer))
}

func TestSettleKhataMarksPendingRowsPaid(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)

	res, err := newTestDispatcher().Dispatch(ctx, m, llm.Intent{Action: llm.ActionSettleKhata, Customer: "Ramesh"})
	require.NoError(t, err)
	assert.Equal(t, sheets.KhataPaid, m.Cell(sheets.TabKhata, "E", 2))
	assert.Equal(t, sheets.KhataPending, m.Cell(sheets.TabKhata, "E", 3))
	assert.Equal(t, []string{"Khata!2"}, res.Rows)

	res, err = newTestDispatcher().Dispatch(ctx, m, llm.Intent{Action: llm.ActionSettleKhata, Customer: "Ramesh"})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "koi pending khata nahi")
}

func TestMarkStaff(t *testing.T) {
	ctx := context.Background()
	m := seededSheet(t)
	d := newTestDispatcher()

	_, err := d.Dispatch(ctx, m, llm.Intent{Action: llm.ActionMarkStaff, StaffName: "raju", Status: "absent"})
	require.NoError(t, err)
	assert.Equal(t, sheets.StaffAbsent, m.Cell(sheets.TabStaff, "D", 2))

	_, err = d.Dispatch(ctx, m, llm.Intent{Action: llm.ActionMarkStaff, StaffName: "Raju", Status: "sleeping"})
	assert.True(t, errors.Is(err, ErrInvalidStatus))

	res, err := d.Dispatch(ctx, m, llm.Intent{Action: llm.ActionMarkStaff, StaffName: "Gopal", Status: "Present"})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "nahi mila")
}

func TestMissingTabFailsDispatch(t *testing.T) {
	m := sheets.NewMemory("empty")
	_, err := newTestDispatcher().Dispatch(context.Background(), m, llm.Intent{Action: llm.ActionMarkStaff, StaffName: "Raju", Status: "Present"})
	assert.True(t, errors.Is(err, sheets.ErrTabNotFound))
}

func TestUnknownActionRepliesWithoutWrites(t *testing.T) {
	m := seededSheet(t)
	before := m.Writes()
	res, err := newTestDispatcher().Dispatch(context.Background(), m, llm.Intent{Action: llm.ActionUnknown})
	require.NoError(t, err)
	assert.Equal(t, "Samajh nahi aaya, please try again.", res.Reply)
	assert.Equal(t, before, m.Writes())
}

func TestIsCreditSale(t *testing.T) {
	assert.True(t, IsCreditSale(" Udhaar "))
	assert.True(t, IsCreditSale("credit"))
	assert.False(t, IsCreditSale("upi"))
	assert.False(t, IsCreditSale(""))
}
