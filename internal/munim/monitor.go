package munim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsagent/internal/config"
	"opsagent/internal/notifications"
	"opsagent/internal/resolution"
	"opsagent/internal/retry"
	"opsagent/internal/sheets"
	"opsagent/internal/tenants"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// TenantSource lists the tenants checked on every cycle.
type TenantSource interface {
	All(ctx context.Context) []*tenants.Tenant
}

// Report summarizes one monitoring cycle.
type Report struct {
	Tenants int
	Alerts  int
	Cleared int
	Errors  int
}

func (r *Report) add(o Report) {
	r.Alerts += o.Alerts
	r.Cleared += o.Cleared
	r.Errors += o.Errors
}

// Monitor polls tenant spreadsheets and sends one alert per threshold
// crossing, tracked with the SENT flag column of each tab.
type Monitor struct {
	tenants  TenantSource
	notifier notifications.Notifier
	resolver resolution.Resolver

	interval   time.Duration
	lowStock   int
	khataLimit decimal.Decimal
	cycleRetry retry.Config
	readRetry  retry.Config
	writeRetry retry.Config
}

// NewMonitor builds a monitor from the munim settings.
func NewMonitor(src TenantSource, notifier notifications.Notifier, settings config.MunimSettings, rc config.ResilienceConfig) *Monitor {
	readRetry := rc.SheetRead
	// A missing tab will not appear by retrying.
	readRetry.Retryable = func(err error) bool { return !errors.Is(err, sheets.ErrTabNotFound) }

	return &Monitor{
		tenants:    src,
		notifier:   notifier,
		resolver:   resolution.NewResolver(settings.FuzzyThreshold),
		interval:   settings.Interval,
		lowStock:   settings.LowStockThreshold,
		khataLimit: decimal.NewFromFloat(settings.KhataAlertAmount),
		cycleRetry: rc.MonitorCycle,
		readRetry:  readRetry,
		writeRetry: rc.SheetWrite,
	}
}

// Run checks immediately and then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", m.interval).
		Msg("Munim started. Monitoring: Inventory, Staff, Cash Flow")

	m.cycle(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Munim stopping")
			return nil
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

// cycle runs RunOnce under the monitor cycle deadline so one stuck
// spreadsheet call cannot hold up the following ticks.
func (m *Monitor) cycle(ctx context.Context) Report {
	report, err := retry.WithRetry(ctx, m.cycleRetry, func(ctx context.Context) (Report, error) {
		return m.RunOnce(ctx), nil
	})
	if err != nil {
		log.Debug().Err(err).Msg("Monitoring cycle interrupted")
	}
	return report
}

// RunOnce runs every check for every tenant.
func (m *Monitor) RunOnce(ctx context.Context) Report {
	start := time.Now()
	var report Report

	list := m.tenants.All(ctx)
	if len(list) == 0 {
		log.Warn().Msg("Waiting for user login; no tenant spreadsheet yet")
		return report
	}

	for _, t := range list {
		report.Tenants++
		report.add(m.CheckTenant(ctx, t))
	}

	log.Debug().
		Int("tenants", report.Tenants).
		Int("alerts", report.Alerts).
		Int("cleared", report.Cleared).
		Int("errors", report.Errors).
		Dur("took", time.Since(start)).
		Msg("Monitoring cycle complete")
	return report
}

type check struct {
	name string
	run  func(context.Context, *tenants.Tenant) (Report, error)
}

// CheckTenant runs the three checks for one tenant. A failing check is
// logged and does not stop the others.
func (m *Monitor) CheckTenant(ctx context.Context, t *tenants.Tenant) Report {
	var report Report
	checks := []check{
		{"inventory", m.CheckInventory},
		{"staff", m.CheckStaff},
		{"cash flow", m.CheckCashFlow},
	}
	for _, c := range checks {
		r, err := c.run(ctx, t)
		report.add(r)
		if err != nil {
			report.Errors++
			log.Error().Err(err).Str("check", c.name).Str("tenant", tenantName(t)).Msg("Check failed")
		}
	}
	return report
}

// CheckInventory alerts on items below the low-stock threshold and clears
// the flag once an item is restocked.
func (m *Monitor) CheckInventory(ctx context.Context, t *tenants.Tenant) (Report, error) {
	var report Report
	data, err := m.read(ctx, t.Sheet, sheets.TabInventory)
	if err != nil {
		return report, err
	}

	var suppliers []sheets.Supplier
	suppliersLoaded := false

	for _, item := range sheets.ParseInventory(data) {
		sent := isSent(item.AlertStatus)
		switch {
		case item.Quantity < m.lowStock && !sent:
			log.Warn().Str("item", item.Name).Int("quantity", item.Quantity).Msg("Low stock")
			if !suppliersLoaded {
				suppliers = m.loadSuppliers(ctx, t.Sheet)
				suppliersLoaded = true
			}
			alert := notifications.LowStockAlert(item.Name, item.Quantity, m.supplierFor(item.Name, suppliers))
			if m.alertAndFlag(ctx, t, alert, sheets.TabInventory, sheets.InventoryColAlert, item.RowIndex) {
				report.Alerts++
			} else {
				report.Errors++
			}
		case item.Quantity >= m.lowStock && sent:
			if m.clearFlag(ctx, t, sheets.TabInventory, sheets.InventoryColAlert, item.RowIndex) {
				log.Info().Str("item", item.Name).Int("quantity", item.Quantity).Msg("Restocked; alert reset")
				report.Cleared++
			}
		}
	}
	return report, nil
}

// CheckStaff alerts on absent staff. A missing Staff tab is skipped.
func (m *Monitor) CheckStaff(ctx context.Context, t *tenants.Tenant) (Report, error) {
	var report Report
	data, err := m.read(ctx, t.Sheet, sheets.TabStaff)
	if errors.Is(err, sheets.ErrTabNotFound) {
		return report, nil
	}
	if err != nil {
		return report, err
	}

	for _, member := range sheets.ParseStaff(data) {
		sent := isSent(member.AlertStatus)
		status := strings.TrimSpace(member.Status)
		switch {
		case strings.EqualFold(status, sheets.StaffAbsent) && !sent:
			log.Warn().Str("staff", member.Name).Str("shift", member.Shift).Msg("Staff absent")
			alert := notifications.StaffAbsentAlert(member.Name, member.Shift)
			if m.alertAndFlag(ctx, t, alert, sheets.TabStaff, sheets.StaffColAlert, member.RowIndex) {
				report.Alerts++
			} else {
				report.Errors++
			}
		case strings.EqualFold(status, sheets.StaffPresent) && sent:
			if m.clearFlag(ctx, t, sheets.TabStaff, sheets.StaffColAlert, member.RowIndex) {
				report.Cleared++
			}
		}
	}
	return report, nil
}

// CheckCashFlow alerts on large pending khata balances. A missing Khata tab
// is skipped.
func (m *Monitor) CheckCashFlow(ctx context.Context, t *tenants.Tenant) (Report, error) {
	var report Report
	data, err := m.read(ctx, t.Sheet, sheets.TabKhata)
	if errors.Is(err, sheets.ErrTabNotFound) {
		return report, nil
	}
	if err != nil {
		return report, err
	}

	for _, entry := range sheets.ParseKhata(data) {
		sent := isSent(entry.AlertStatus)
		status := strings.TrimSpace(entry.Status)
		switch {
		case strings.EqualFold(status, sheets.KhataPending) && entry.Amount.GreaterThan(m.khataLimit) && !sent:
			log.Warn().Str("customer", entry.Customer).Str("amount", entry.Amount.String()).Msg("Cash flow risk")
			alert := notifications.CashFlowAlert(entry.Customer, entry.Amount)
			if m.alertAndFlag(ctx, t, alert, sheets.TabKhata, sheets.KhataColAlert, entry.RowIndex) {
				report.Alerts++
			} else {
				report.Errors++
			}
		case strings.EqualFold(status, sheets.KhataPaid) && sent:
			if m.clearFlag(ctx, t, sheets.TabKhata, sheets.KhataColAlert, entry.RowIndex) {
				report.Cleared++
			}
		}
	}
	return report, nil
}

func (m *Monitor) read(ctx context.Context, sheet sheets.Spreadsheet, tab string) ([][]interface{}, error) {
	return retry.WithRetry(ctx, m.readRetry, func(ctx context.Context) ([][]interface{}, error) {
		return sheet.ReadTab(ctx, tab)
	})
}

func (m *Monitor) loadSuppliers(ctx context.Context, sheet sheets.Spreadsheet) []sheets.Supplier {
	data, err := m.read(ctx, sheet, sheets.TabSuppliers)
	if err != nil {
		if !errors.Is(err, sheets.ErrTabNotFound) {
			log.Warn().Err(err).Msg("Failed to read suppliers")
		}
		return nil
	}
	return sheets.ParseSuppliers(data)
}

func (m *Monitor) supplierFor(item string, suppliers []sheets.Supplier) *notifications.SupplierInfo {
	s, ok := m.resolver.MatchSupplier(item, suppliers)
	if !ok {
		return nil
	}
	return &notifications.SupplierInfo{Name: s.Name, Phone: s.Phone}
}

// alertAndFlag sends the alert and writes SENT only after delivery, so a
// failed send is retried on the next cycle.
func (m *Monitor) alertAndFlag(ctx context.Context, t *tenants.Tenant, alert notifications.Alert, tab, column string, row int) bool {
	if err := m.notifier.Notify(ctx, resolution.WhatsAppAddress(t.Phone), alert); err != nil {
		log.Error().Err(err).Str("tab", tab).Int("row", row).Msg("Alert delivery failed; flag left unset")
		return false
	}
	if err := m.writeCell(ctx, t.Sheet, tab, column, row, sheets.AlertSent); err != nil {
		log.Error().Err(err).Str("tab", tab).Int("row", row).Msg("Alert sent but SENT flag not written")
		return false
	}
	return true
}

func (m *Monitor) clearFlag(ctx context.Context, t *tenants.Tenant, tab, column string, row int) bool {
	if err := m.writeCell(ctx, t.Sheet, tab, column, row, ""); err != nil {
		log.Error().Err(err).Str("tab", tab).Int("row", row).Msg("Failed to reset alert flag")
		return false
	}
	return true
}

func (m *Monitor) writeCell(ctx context.Context, sheet sheets.Spreadsheet, tab, column string, row int, value string) error {
	_, err := retry.WithRetry(ctx, m.writeRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, sheet.UpdateCell(ctx, tab, column, row, value)
	})
	if err != nil {
		return fmt.Errorf("%s!%s%d: %w", tab, column, row, err)
	}
	return nil
}

func isSent(flag string) bool {
	return strings.EqualFold(strings.TrimSpace(flag), sheets.AlertSent)
}

func tenantName(t *tenants.Tenant) string {
	if t.Email != "" {
		return t.Email
	}
	return t.Sheet.ID()
}
