package processing

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"opsagent/internal/llm"
	"opsagent/internal/sheets"
)

// creditModes are payment modes that put the sale on the customer's khata.
var creditModes = map[string]bool{
	"udhaar": true,
	"udhar":  true,
	"credit": true,
	"khata":  true,
}

// IsCreditSale reports whether mode means the customer has not paid yet.
func IsCreditSale(mode string) bool {
	return creditModes[strings.ToLower(strings.TrimSpace(mode))]
}

func (d *Dispatcher) readInventory(ctx context.Context, sheet sheets.Spreadsheet) ([]sheets.InventoryItem, error) {
	data, err := sheet.ReadTab(ctx, sheets.TabInventory)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	items := sheets.ParseInventory(data)
	log.Debug().
		Int("total_rows", len(data)).
		Int("parsed_items", len(items)).
		Msg("Parsed inventory rows")
	return items, nil
}

// updateInventory adds stock to the matching row, or appends a new item when
// nothing in the inventory scores above the threshold.
func (d *Dispatcher) updateInventory(ctx context.Context, sheet sheets.Spreadsheet, intent llm.Intent) (Result, error) {
	if intent.Item == "" {
		return Result{}, ErrMissingItem
	}
	qty := max(intent.Quantity, 1)

	items, err := d.readInventory(ctx, sheet)
	if err != nil {
		return Result{}, err
	}

	existing, score, ok := d.resolver.MatchItem(intent.Item, items)
	if !ok {
		row := sheets.InventoryItem{
			Name:     intent.Item,
			Quantity: qty,
			Cost:     intent.Amount,
			Date:     d.today(),
		}
		if err := sheet.AppendRow(ctx, sheets.TabInventory, row.Values()); err != nil {
			return Result{}, fmt.Errorf("appending inventory row: %w", err)
		}
		log.Info().
			Str("item", intent.Item).
			Int("quantity", qty).
			Msg("Added new inventory item")
		return Result{
			Reply: replyOr(intent, fmt.Sprintf("%s add ho gaya: %d units.", intent.Item, qty)),
			Rows:  []string{appendedRef(sheets.TabInventory)},
		}, nil
	}

	newQty := existing.Quantity + qty
	if err := sheet.UpdateCell(ctx, sheets.TabInventory, sheets.InventoryColQuantity, existing.RowIndex, newQty); err != nil {
		return Result{}, fmt.Errorf("updating quantity: %w", err)
	}
	if !intent.Amount.IsZero() {
		if err := sheet.UpdateCell(ctx, sheets.TabInventory, sheets.InventoryColCost, existing.RowIndex, intent.Amount.String()); err != nil {
			return Result{}, fmt.Errorf("updating cost: %w", err)
		}
	}
	if err := sheet.UpdateCell(ctx, sheets.TabInventory, sheets.InventoryColDate, existing.RowIndex, d.today()); err != nil {
		return Result{}, fmt.Errorf("updating date: %w", err)
	}

	log.Info().
		Int("row", existing.RowIndex).
		Str("item", existing.Name).
		Str("requested", intent.Item).
		Int("score", score).
		Int("quantity", newQty).
		Msg("Restocked existing inventory item")

	return Result{
		Reply: replyOr(intent, fmt.Sprintf("%s stock update: ab %d units.", existing.Name, newQty)),
		Rows:  []string{cellRef(sheets.TabInventory, existing.RowIndex)},
	}, nil
}

// recordSale appends the sale, debits inventory, and opens a khata entry for
// credit sales. Each step is a separate remote write.
func (d *Dispatcher) recordSale(ctx context.Context, sheet sheets.Spreadsheet, intent llm.Intent) (Result, error) {
	if intent.Item == "" {
		return Result{}, ErrMissingItem
	}
	qty := max(intent.Quantity, 1)
	mode := intent.PaymentMode
	if mode == "" {
		mode = "cash"
	}

	sale := sheets.Sale{
		ItemName:    intent.Item,
		Quantity:    qty,
		Price:       intent.Amount,
		Date:        d.today(),
		PaymentMode: mode,
		Customer:    intent.Customer,
	}
	if err := sheet.AppendRow(ctx, sheets.TabSales, sale.Values()); err != nil {
		return Result{}, fmt.Errorf("appending sale: %w", err)
	}
	res := Result{Rows: []string{appendedRef(sheets.TabSales)}}

	items, err := d.readInventory(ctx, sheet)
	if err != nil {
		log.Error().Err(err).Str("item", intent.Item).Msg("Sale recorded but inventory not debited")
		return res, err
	}
	var remaining = -1
	if existing, _, ok := d.resolver.MatchItem(intent.Item, items); ok {
		remaining = max(existing.Quantity-qty, 0)
		if err := sheet.UpdateCell(ctx, sheets.TabInventory, sheets.InventoryColQuantity, existing.RowIndex, remaining); err != nil {
			log.Error().Err(err).Int("row", existing.RowIndex).Msg("Sale recorded but inventory not debited")
			return res, fmt.Errorf("debiting inventory: %w", err)
		}
		res.Rows = append(res.Rows, cellRef(sheets.TabInventory, existing.RowIndex))
	} else {
		log.Warn().Str("item", intent.Item).Msg("Sold item not found in inventory, stock not debited")
	}

	if IsCreditSale(mode) {
		customer := intent.Customer
		if customer == "" {
			customer = "Unknown"
		}
		entry := sheets.KhataEntry{
			Customer: customer,
			Amount:   intent.Amount,
			Reason:   fmt.Sprintf("%d x %s", qty, intent.Item),
			Date:     d.today(),
			Status:   sheets.KhataPending,
			Phone:    intent.Phone,
		}
		if err := sheet.AppendRow(ctx, sheets.TabKhata, entry.Values()); err != nil {
			log.Error().Err(err).Str("customer", customer).Msg("Sale recorded but khata entry not written")
			return res, fmt.Errorf("appending khata: %w", err)
		}
		res.Rows = append(res.Rows, appendedRef(sheets.TabKhata))
	}

	fallback := fmt.Sprintf("Sale record ho gaya: %d x %s.", qty, intent.Item)
	if remaining >= 0 {
		fallback += fmt.Sprintf(" Stock bacha: %d.", remaining)
	}
	res.Reply = replyOr(intent, fallback)
	return res, nil
}

// checkStock answers from the sheet, never from the model, so the number is
// always current.
func (d *Dispatcher) checkStock(ctx context.Context, sheet sheets.Spreadsheet, intent llm.Intent) (Result, error) {
	if intent.Item == "" {
		return Result{}, ErrMissingItem
	}
	items, err := d.readInventory(ctx, sheet)
	if err != nil {
		return Result{}, err
	}
	existing, _, ok := d.resolver.MatchItem(intent.Item, items)
	if !ok {
		return Result{Reply: fmt.Sprintf("%s inventory mein nahi mila.", intent.Item)}, nil
	}
	return Result{
		Reply: fmt.Sprintf("%s: %d units bache hain.", existing.Name, existing.Quantity),
	}, nil
}
