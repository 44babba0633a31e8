package processing

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"opsagent/internal/llm"
	"opsagent/internal/sheets"
)

func (d *Dispatcher) addExpense(ctx context.Context, sheet sheets.Spreadsheet, intent llm.Intent) (Result, error) {
	if intent.Item == "" {
		return Result{}, ErrMissingItem
	}
	category := intent.Category
	if category == "" {
		category = "General"
	}
	row := sheets.Expense{
		Description: intent.Item,
		Amount:      intent.Amount,
		Date:        d.today(),
		Category:    category,
	}
	if err := sheet.AppendRow(ctx, sheets.TabLedger, row.Values()); err != nil {
		return Result{}, fmt.Errorf("appending expense: %w", err)
	}
	log.Info().
		Str("expense", intent.Item).
		Str("amount", intent.Amount.String()).
		Str("category", category).
		Msg("Recorded expense")
	return Result{
		Reply: replyOr(intent, fmt.Sprintf("Kharcha note ho gaya: %s ₹%s.", intent.Item, intent.Amount.String())),
		Rows:  []string{appendedRef(sheets.TabLedger)},
	}, nil
}

func (d *Dispatcher) addKhata(ctx context.Context, sheet sheets.Spreadsheet, intent llm.Intent) (Result, error) {
	if intent.Customer == "" {
		return Result{}, ErrMissingCustomer
	}
	reason := intent.Reason
	if reason == "" {
		reason = intent.Item
	}
	entry := sheets.KhataEntry{
		Customer: intent.Customer,
		Amount:   intent.Amount,
		Reason:   reason,
		Date:     d.today(),
		Status:   sheets.KhataPending,
		Phone:    intent.Phone,
	}
	if err := sheet.AppendRow(ctx, sheets.TabKhata, entry.Values()); err != nil {
		return Result{}, fmt.Errorf("appending khata: %w", err)
	}
	log.Info().
		Str("customer", intent.Customer).
		Str("amount", intent.Amount.String()).
		Msg("Opened khata entry")
	return Result{
		Reply: replyOr(intent, fmt.Sprintf("%s ke khate mein ₹%s likh diya.", intent.Customer, intent.Amount.String())),
		Rows:  []string{appendedRef(sheets.TabKhata)},
	}, nil
}

// settleKhata marks every pending entry of the matching customer as paid.
func (d *Dispatcher) settleKhata(ctx context.Context, sheet sheets.Spreadsheet, intent llm.Intent) (Result, error) {
	customer := intent.Customer
	if customer == "" {
		customer = intent.Item
	}
	if customer == "" {
		return Result{}, ErrMissingCustomer
	}

	data, err := sheet.ReadTab(ctx, sheets.TabKhata)
	if err != nil {
		return Result{}, fmt.Errorf("reading khata: %w", err)
	}
	var res Result
	for _, e := range d.resolver.MatchingCustomers(customer, sheets.ParseKhata(data)) {
		if !strings.EqualFold(e.Status, sheets.KhataPending) {
			continue
		}
		if err := sheet.UpdateCell(ctx, sheets.TabKhata, sheets.KhataColStatus, e.RowIndex, sheets.KhataPaid); err != nil {
			return res, fmt.Errorf("settling row %d: %w", e.RowIndex, err)
		}
		res.Rows = append(res.Rows, cellRef(sheets.TabKhata, e.RowIndex))
		log.Info().
			Int("row", e.RowIndex).
			Str("customer", e.Customer).
			Str("amount", e.Amount.String()).
			Msg("Settled khata entry")
	}

	if len(res.Rows) == 0 {
		res.Reply = fmt.Sprintf("%s ka koi pending khata nahi mila.", customer)
		return res, nil
	}
	res.Reply = replyOr(intent, fmt.Sprintf("%s ka khata clear: %d entries Paid.", customer, len(res.Rows)))
	return res, nil
}

// markStaff sets a staff member's attendance for the day.
func (d *Dispatcher) markStaff(ctx context.Context, sheet sheets.Spreadsheet, intent llm.Intent) (Result, error) {
	name := intent.StaffName
	if name == "" {
		name = intent.Item
	}
	if name == "" {
		return Result{}, ErrMissingItem
	}
	status, ok := normalizeStaffStatus(intent.Status)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidStatus, intent.Status)
	}

	data, err := sheet.ReadTab(ctx, sheets.TabStaff)
	if err != nil {
		return Result{}, fmt.Errorf("reading staff: %w", err)
	}
	member, ok := d.resolver.MatchStaff(name, sheets.ParseStaff(data))
	if !ok {
		return Result{Reply: fmt.Sprintf("%s staff list mein nahi mila.", name)}, nil
	}
	if err := sheet.UpdateCell(ctx, sheets.TabStaff, sheets.StaffColStatus, member.RowIndex, status); err != nil {
		return Result{}, fmt.Errorf("updating staff status: %w", err)
	}
	log.Info().
		Int("row", member.RowIndex).
		Str("staff", member.Name).
		Str("status", status).
		Msg("Marked staff attendance")
	return Result{
		Reply: replyOr(intent, fmt.Sprintf("%s aaj %s mark ho gaya.", member.Name, status)),
		Rows:  []string{cellRef(sheets.TabStaff, member.RowIndex)},
	}, nil
}

func normalizeStaffStatus(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "present", "aaya", "aya", "haazir":
		return sheets.StaffPresent, true
	case "absent", "nahi aaya", "chutti", "leave":
		return sheets.StaffAbsent, true
	}
	return "", false
}
