package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"opsagent/internal/llm"
	"opsagent/internal/resolution"
	"opsagent/internal/sheets"
)

var (
	ErrMissingItem     = errors.New("item name missing")
	ErrMissingCustomer = errors.New("customer name missing")
	ErrInvalidStatus   = errors.New("staff status must be Present or Absent")
)

// Result describes what a dispatched intent changed.
type Result struct {
	Action llm.Action
	// Reply is the message for the shop owner.
	Reply string
	// Rows lists the tab!row cells touched, for logging.
	Rows []string
}

// Dispatcher applies parsed intents to a tenant's spreadsheet.
type Dispatcher struct {
	resolver resolution.Resolver
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher that treats names scoring at least
// threshold as the same entry.
func NewDispatcher(threshold int) *Dispatcher {
	return &Dispatcher{
		resolver: resolution.NewResolver(threshold),
		now:      time.Now,
	}
}

// Dispatch applies intent to sheet. The writes for one intent are not atomic;
// an error after the first write leaves earlier writes in place.
func (d *Dispatcher) Dispatch(ctx context.Context, sheet sheets.Spreadsheet, intent llm.Intent) (Result, error) {
	log.Debug().
		Str("action", string(intent.Action)).
		Str("spreadsheet", sheet.ID()).
		Msg("Dispatching intent")

	var (
		res Result
		err error
	)
	switch intent.Action {
	case llm.ActionUpdateInventory:
		res, err = d.updateInventory(ctx, sheet, intent)
	case llm.ActionRecordSale:
		res, err = d.recordSale(ctx, sheet, intent)
	case llm.ActionCheckStock:
		res, err = d.checkStock(ctx, sheet, intent)
	case llm.ActionAddExpense:
		res, err = d.addExpense(ctx, sheet, intent)
	case llm.ActionAddKhata:
		res, err = d.addKhata(ctx, sheet, intent)
	case llm.ActionSettleKhata:
		res, err = d.settleKhata(ctx, sheet, intent)
	case llm.ActionMarkStaff:
		res, err = d.markStaff(ctx, sheet, intent)
	default:
		res = Result{Reply: replyOr(intent, "Samajh nahi aaya, please try again.")}
	}
	res.Action = intent.Action
	if err != nil {
		return res, fmt.Errorf("%s: %w", intent.Action, err)
	}

	log.Info().
		Str("action", string(intent.Action)).
		Strs("rows", res.Rows).
		Msg("Intent applied")
	return res, nil
}

func (d *Dispatcher) today() string {
	return d.now().Format(sheets.DateLayout)
}

// replyOr prefers the model's own confirmation.
func replyOr(intent llm.Intent, fallback string) string {
	if intent.ResponseMsg != "" {
		return intent.ResponseMsg
	}
	return fallback
}

func cellRef(tab string, row int) string {
	return fmt.Sprintf("%s!%d", tab, row)
}

func appendedRef(tab string) string {
	return tab + "!+"
}
