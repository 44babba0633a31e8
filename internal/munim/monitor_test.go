package munim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"opsagent/internal/config"
	"opsagent/internal/notifications"
	"opsagent/internal/retry"
	"opsagent/internal/sheets"
	"opsagent/internal/tenants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	fail   bool
	to     []string
	alerts []notifications.Alert
}

func (r *recordingNotifier) Notify(ctx context.Context, to string, alert notifications.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("twilio down")
	}
	r.to = append(r.to, to)
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type staticTenants []*tenants.Tenant

func (s staticTenants) All(ctx context.Context) []*tenants.Tenant { return s }

var fastRetry = config.ResilienceConfig{
	SheetRead:  retry.Config{Name: "sheet read", MaxRetries: 1},
	SheetWrite: retry.Config{Name: "sheet write"},
}

func newTestMonitor(t *testing.T, sheet sheets.Spreadsheet) (*Monitor, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	settings := config.Defaults().Munim
	tenant := &tenants.Tenant{Phone: "+919000000000", Sheet: sheet}
	return NewMonitor(staticTenants{tenant}, n, settings, fastRetry), n
}

func appendRows(t *testing.T, m *sheets.Memory, tab string, rows ...[]interface{}) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, m.AppendRow(context.Background(), tab, row))
	}
}

func TestLowStockAlertsOncePerCrossing(t *testing.T) {
	ctx := context.Background()
	sheet := sheets.NewMemoryWithSchema("shop")
	appendRows(t, sheet, sheets.TabInventory,
		[]interface{}{"Sugar", "5", "40", "2026-10-19", ""},
		[]interface{}{"Rice", "50", "60", "2026-10-19", ""},
	)
	appendRows(t, sheet, sheets.TabSuppliers, []interface{}{"sugar", "Gupta Traders", "+919811111111"})
	mon, n := newTestMonitor(t, sheet)

	report := mon.RunOnce(ctx)
	assert.Equal(t, 1, report.Alerts)
	assert.Equal(t, sheets.AlertSent, sheet.Cell(sheets.TabInventory, "E", 2))
	assert.Equal(t, "", sheet.Cell(sheets.TabInventory, "E", 3))
	require.Equal(t, 1, n.count())
	assert.Equal(t, "whatsapp:+919000000000", n.to[0])
	assert.Contains(t, n.alerts[0].Body, "*Sugar*")
	assert.Contains(t, n.alerts[0].Body, "Gupta Traders")

	mon.RunOnce(ctx)
	assert.Equal(t, 1, n.count(), "flag suppresses a repeat alert")

	require.NoError(t, sheet.UpdateCell(ctx, sheets.TabInventory, "B", 2, 25))
	report = mon.RunOnce(ctx)
	assert.Equal(t, 1, report.Cleared)
	assert.Equal(t, "", sheet.Cell(sheets.TabInventory, "E", 2))

	require.NoError(t, sheet.UpdateCell(ctx, sheets.TabInventory, "B", 2, 2))
	mon.RunOnce(ctx)
	assert.Equal(t, 2, n.count(), "new crossing alerts again")
	assert.Equal(t, sheets.AlertSent, sheet.Cell(sheets.TabInventory, "E", 2))
}

func TestFlagNotSetWhenDeliveryFails(t *testing.T) {
	ctx := context.Background()
	sheet := sheets.NewMemoryWithSchema("shop")
	appendRows(t, sheet, sheets.TabInventory, []interface{}{"Sugar", "5", "40", "2026-10-19", ""})
	mon, n := newTestMonitor(t, sheet)
	n.fail = true

	report := mon.RunOnce(ctx)
	assert.Equal(t, 0, report.Alerts)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, "", sheet.Cell(sheets.TabInventory, "E", 2))

	n.fail = false
	mon.RunOnce(ctx)
	assert.Equal(t, 1, n.count())
	assert.Equal(t, sheets.AlertSent, sheet.Cell(sheets.TabInventory, "E", 2))
}

func TestStaffAbsenceAlertAndReset(t *testing.T) {
	ctx := context.Background()
	sheet := sheets.NewMemoryWithSchema("shop")
	appendRows(t, sheet, sheets.TabStaff,
		[]interface{}{"Raju", "Helper", "Morning", "Present", "+919999999999", ""},
		[]interface{}{"Shyam", "Manager", "Evening", "absent", "+918888888888", ""},
		[]interface{}{"Short", "Row"},
	)
	mon, n := newTestMonitor(t, sheet)

	report, err := mon.CheckStaff(ctx, &tenants.Tenant{Sheet: sheet})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Alerts)
	require.Equal(t, 1, n.count())
	assert.Contains(t, n.alerts[0].Body, "*Shyam* has been marked ABSENT for the Evening shift")
	assert.Equal(t, sheets.AlertSent, sheet.Cell(sheets.TabStaff, "F", 3))

	require.NoError(t, sheet.UpdateCell(ctx, sheets.TabStaff, "D", 3, "Present"))
	report, err = mon.CheckStaff(ctx, &tenants.Tenant{Sheet: sheet})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleared)
	assert.Equal(t, "", sheet.Cell(sheets.TabStaff, "F", 3))
}

func TestCashFlowAlertAboveLimitOnly(t *testing.T) {
	ctx := context.Background()
	sheet := sheets.NewMemoryWithSchema("shop")
	appendRows(t, sheet, sheets.TabKhata,
		[]interface{}{"Ramesh", "1200", "Rice", "2026-10-19", "Pending", "", ""},
		[]interface{}{"Suresh", "500", "Oil", "2026-10-19", "Pending", "", ""},
		[]interface{}{"Mahesh", "abc", "Oil", "2026-10-19", "Pending", "", ""},
	)
	mon, n := newTestMonitor(t, sheet)

	mon.RunOnce(ctx)
	require.Equal(t, 1, n.count(), "500 is not above the limit")
	assert.Contains(t, n.alerts[0].Body, "₹1200.00")
	assert.Equal(t, sheets.AlertSent, sheet.Cell(sheets.TabKhata, "G", 2))

	require.NoError(t, sheet.UpdateCell(ctx, sheets.TabKhata, "E", 2, "Paid"))
	report := mon.RunOnce(ctx)
	assert.Equal(t, 1, report.Cleared)
	assert.Equal(t, "", sheet.Cell(sheets.TabKhata, "G", 2))
	assert.Equal(t, 1, n.count())
}

func TestMissingOptionalTabsAreSkipped(t *testing.T) {
	ctx := context.Background()
	sheet := sheets.NewMemory("old-shop")
	require.NoError(t, sheet.AddTab(ctx, sheets.TabInventory, []string{"Item Name", "Quantity", "Cost", "Date", "Alert Status"}))
	appendRows(t, sheet, sheets.TabInventory, []interface{}{"Sugar", "3"})
	mon, n := newTestMonitor(t, sheet)

	report := mon.RunOnce(ctx)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, n.count())
	assert.NotContains(t, n.alerts[0].Body, "Supplier")
	assert.Equal(t, sheets.AlertSent, sheet.Cell(sheets.TabInventory, "E", 2))
}

func TestMissingInventoryTabIsAnError(t *testing.T) {
	sheet := sheets.NewMemory("empty")
	mon, _ := newTestMonitor(t, sheet)

	report := mon.RunOnce(context.Background())
	assert.Equal(t, 1, report.Errors)
}

func TestRunStopsOnCancel(t *testing.T) {
	sheet := sheets.NewMemoryWithSchema("shop")
	appendRows(t, sheet, sheets.TabInventory, []interface{}{"Sugar", "5", "40", "2026-10-19", ""})
	mon, n := newTestMonitor(t, sheet)
	mon.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	require.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, n.count())
}

func TestNoTenantsIsQuiet(t *testing.T) {
	mon := NewMonitor(staticTenants{}, &recordingNotifier{}, config.Defaults().Munim, fastRetry)
	report := mon.RunOnce(context.Background())
	assert.Equal(t, Report{}, report)
}

func TestSentFlagIsCaseInsensitive(t *testing.T) {
	assert.True(t, isSent(" sent "))
	assert.False(t, isSent(""))
	assert.False(t, isSent("PENDING"))
}

type deadlineTenants struct {
	deadline time.Time
	bounded  bool
}

func (d *deadlineTenants) All(ctx context.Context) []*tenants.Tenant {
	d.deadline, d.bounded = ctx.Deadline()
	return nil
}

func TestCycleAppliesMonitorDeadline(t *testing.T) {
	src := &deadlineTenants{}
	rc := fastRetry
	rc.MonitorCycle = retry.Config{Name: "monitor cycle", Timeout: time.Minute}
	mon := NewMonitor(src, &recordingNotifier{}, config.Defaults().Munim, rc)

	before := time.Now()
	mon.cycle(context.Background())
	require.True(t, src.bounded, "tenant listing runs under the cycle deadline")
	assert.WithinDuration(t, before.Add(time.Minute), src.deadline, 5*time.Second)
}
