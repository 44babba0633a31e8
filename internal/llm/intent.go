package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"opsagent/internal/sheets"
)

// Action is the operation the model extracted from a message.
type Action string

const (
	ActionUpdateInventory Action = "UPDATE_INVENTORY"
	ActionRecordSale      Action = "RECORD_SALE"
	ActionAddExpense      Action = "ADD_EXPENSE"
	ActionAddKhata        Action = "ADD_KHATA"
	ActionSettleKhata     Action = "SETTLE_KHATA"
	ActionMarkStaff       Action = "MARK_STAFF"
	ActionCheckStock      Action = "CHECK_STOCK"
	ActionUnknown         Action = "UNKNOWN"
)

var knownActions = map[Action]bool{
	ActionUpdateInventory: true,
	ActionRecordSale:      true,
	ActionAddExpense:      true,
	ActionAddKhata:        true,
	ActionSettleKhata:     true,
	ActionMarkStaff:       true,
	ActionCheckStock:      true,
	ActionUnknown:         true,
}

// ErrNoJSON is returned when the model reply has no JSON object in it.
var ErrNoJSON = errors.New("no JSON object in model reply")

// Intent is the typed form of the model's JSON reply.
type Intent struct {
	Action      Action
	Item        string
	Quantity    int
	Amount      decimal.Decimal
	Category    string
	Customer    string
	Phone       string
	Reason      string
	PaymentMode string
	StaffName   string
	Status      string
	ResponseMsg string
}

// rawIntent mirrors the reply; numbers may arrive as JSON numbers or strings.
type rawIntent struct {
	Action      string      `json:"action"`
	Item        string      `json:"item"`
	Quantity    interface{} `json:"quantity"`
	Amount      interface{} `json:"amount"`
	Category    string      `json:"category"`
	Customer    string      `json:"customer"`
	Phone       string      `json:"phone"`
	Reason      string      `json:"reason"`
	PaymentMode string      `json:"payment_mode"`
	StaffName   string      `json:"staff_name"`
	Status      string      `json:"status"`
	ResponseMsg string      `json:"response_msg"`
}

// ParseIntent extracts the JSON object from a model reply and converts it.
// Code fences and chatter around the object are ignored. An unrecognised
// action becomes ActionUnknown.
func ParseIntent(reply string) (Intent, error) {
	body, err := extractJSON(reply)
	if err != nil {
		return Intent{}, err
	}

	var raw rawIntent
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Intent{}, fmt.Errorf("decoding model reply: %w", err)
	}

	qty, err := quantityValue(raw.Quantity)
	if err != nil {
		return Intent{}, fmt.Errorf("quantity: %w", err)
	}
	amount, err := amountValue(raw.Amount)
	if err != nil {
		return Intent{}, fmt.Errorf("amount: %w", err)
	}

	action := Action(strings.ToUpper(strings.TrimSpace(raw.Action)))
	if !knownActions[action] {
		action = ActionUnknown
	}

	return Intent{
		Action:      action,
		Item:        strings.TrimSpace(raw.Item),
		Quantity:    qty,
		Amount:      amount,
		Category:    strings.TrimSpace(raw.Category),
		Customer:    strings.TrimSpace(raw.Customer),
		Phone:       strings.TrimSpace(raw.Phone),
		Reason:      strings.TrimSpace(raw.Reason),
		PaymentMode: strings.ToLower(strings.TrimSpace(raw.PaymentMode)),
		StaffName:   strings.TrimSpace(raw.StaffName),
		Status:      strings.TrimSpace(raw.Status),
		ResponseMsg: strings.TrimSpace(raw.ResponseMsg),
	}, nil
}

// cleanJSONResponse removes markdown code fences from a reply.
func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

func extractJSON(reply string) (string, error) {
	s := cleanJSONResponse(reply)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

func quantityValue(v interface{}) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(math.Round(n)), nil
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, nil
		}
		q, ok := sheets.ParseQuantity(n)
		if !ok {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return q, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func amountValue(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		if strings.TrimSpace(n) == "" {
			return decimal.Zero, nil
		}
		d, ok := sheets.ParseAmount(n)
		if !ok {
			return decimal.Zero, fmt.Errorf("not an amount: %q", n)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("unexpected type %T", v)
	}
}
