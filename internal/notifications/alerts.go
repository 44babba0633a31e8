package notifications

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Alert is one outbound owner notification.
type Alert struct {
	Title string
	Body  string
}

// Text renders the alert as a single WhatsApp message.
func (a Alert) Text() string {
	return fmt.Sprintf("%s\n\n%s", a.Title, a.Body)
}

// SupplierInfo is the reorder contact attached to low-stock alerts.
type SupplierInfo struct {
	Name  string
	Phone string
}

func LowStockAlert(item string, qty int, supplier *SupplierInfo) Alert {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Based on current demand velocity, *%s* is projected to run out in less than 24 hours.\n", item))
	sb.WriteString(fmt.Sprintf("• Current Stock: %d\n", qty))
	if supplier != nil {
		if supplier.Phone != "" {
			sb.WriteString(fmt.Sprintf("• Supplier: %s (%s)\n", supplier.Name, supplier.Phone))
		} else {
			sb.WriteString(fmt.Sprintf("• Supplier: %s\n", supplier.Name))
		}
	}
	sb.WriteString("• Recommended Action: Reorder immediately.")
	return Alert{Title: "📉 *Stockout Prediction Alert*", Body: sb.String()}
}

func StaffAbsentAlert(name, shift string) Alert {
	if shift == "" {
		shift = "today's"
	}
	return Alert{
		Title: "⚠️ *Schedule Risk Alert*",
		Body: fmt.Sprintf("*%s* has been marked ABSENT for the %s shift.\n"+
			"• Operational Impact: High\n"+
			"• Action: Please arrange a replacement to maintain service levels.", name, shift),
	}
}

func CashFlowAlert(customer string, amount decimal.Decimal) Alert {
	return Alert{
		Title: "💸 *Cash Flow Alert*",
		Body: fmt.Sprintf("Large outstanding payment detected.\n"+
			"• Customer: *%s*\n"+
			"• Amount: ₹%s\n"+
			"• Status: Overdue\n"+
			"Recommended: Send payment reminder.", customer, amount.StringFixed(2)),
	}
}
