package dashboard

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"opsagent/internal/sheets"

	"github.com/shopspring/decimal"
)

// Snapshot is one read of the tabs the dashboard shows.
type Snapshot struct {
	Inventory []sheets.InventoryItem
	Sales     []sheets.Sale
	Khata     []sheets.KhataEntry
	Staff     []sheets.StaffMember
	LoadedAt  time.Time
}

// Empty reports whether there is nothing to chart yet.
func (s Snapshot) Empty() bool {
	return len(s.Inventory) == 0 && len(s.Sales) == 0
}

// Metrics are the headline numbers.
type Metrics struct {
	TotalRevenue decimal.Decimal
	LowStock     int
	SalesCount   int
	PendingKhata decimal.Decimal
	AbsentStaff  int
}

func ComputeMetrics(s Snapshot, lowStock int) Metrics {
	var m Metrics
	for _, sale := range s.Sales {
		m.TotalRevenue = m.TotalRevenue.Add(sale.Price)
	}
	m.SalesCount = len(s.Sales)
	for _, it := range s.Inventory {
		if it.Quantity < lowStock {
			m.LowStock++
		}
	}
	for _, k := range s.Khata {
		if strings.EqualFold(strings.TrimSpace(k.Status), sheets.KhataPending) {
			m.PendingKhata = m.PendingKhata.Add(k.Amount)
		}
	}
	for _, st := range s.Staff {
		if strings.EqualFold(strings.TrimSpace(st.Status), sheets.StaffAbsent) {
			m.AbsentStaff++
		}
	}
	return m
}

// Bar is one inventory level in the chart.
type Bar struct {
	Name     string
	Quantity int
	// Width is a percentage of the largest quantity.
	Width int
	Color template.CSS
	Low   bool
}

// InventoryBars scales quantities to the largest one and colors them from
// red (empty) to green (fullest).
func InventoryBars(items []sheets.InventoryItem, lowStock int) []Bar {
	maxQty := 0
	for _, it := range items {
		maxQty = max(maxQty, it.Quantity)
	}

	bars := make([]Bar, 0, len(items))
	for _, it := range items {
		ratio := 0.0
		if maxQty > 0 {
			ratio = float64(max(it.Quantity, 0)) / float64(maxQty)
		}
		width := int(ratio * 100)
		if it.Quantity > 0 && width < 2 {
			width = 2
		}
		bars = append(bars, Bar{
			Name:     it.Name,
			Quantity: it.Quantity,
			Width:    width,
			Color:    template.CSS(fmt.Sprintf("hsl(%d, 70%%, 45%%)", int(ratio*120))),
			Low:      it.Quantity < lowStock,
		})
	}
	return bars
}

// RecentSales returns up to n sales, latest first. n <= 0 returns all.
func RecentSales(sales []sheets.Sale, n int) []sheets.Sale {
	if n <= 0 || n > len(sales) {
		n = len(sales)
	}
	out := make([]sheets.Sale, 0, n)
	for i := len(sales) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, sales[i])
	}
	return out
}

// FormatRupees renders an amount as ₹1,234.50.
func FormatRupees(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return sign + "₹" + b.String() + "." + frac
}
