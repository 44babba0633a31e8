package resolution

import (
	"opsagent/internal/sheets"

	"github.com/rs/zerolog/log"
)

// Resolver reconciles free-text names coming from messages against the
// canonical rows already in the spreadsheet.
type Resolver struct {
	Threshold int
}

// NewResolver returns a Resolver using threshold, or DefaultThreshold when
// threshold is not positive.
func NewResolver(threshold int) Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Resolver{Threshold: threshold}
}

// MatchItem finds the inventory row that name refers to.
func (r Resolver) MatchItem(name string, items []sheets.InventoryItem) (sheets.InventoryItem, int, bool) {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	m, ok := BestMatch(name, names, r.Threshold)
	if !ok {
		log.Debug().Str("item", name).Int("candidates", len(items)).Msg("No inventory match")
		return sheets.InventoryItem{}, 0, false
	}
	log.Debug().
		Str("item", name).
		Str("matched", m.Value).
		Int("score", m.Score).
		Int("row", items[m.Index].RowIndex).
		Msg("Matched inventory item")
	return items[m.Index], m.Score, true
}

// MatchSupplier finds the supplier for an item name.
func (r Resolver) MatchSupplier(itemName string, suppliers []sheets.Supplier) (sheets.Supplier, bool) {
	names := make([]string, len(suppliers))
	for i, s := range suppliers {
		names[i] = s.ItemName
	}
	m, ok := BestMatch(itemName, names, r.Threshold)
	if !ok {
		return sheets.Supplier{}, false
	}
	return suppliers[m.Index], true
}

// MatchStaff finds a staff member by name.
func (r Resolver) MatchStaff(name string, staff []sheets.StaffMember) (sheets.StaffMember, bool) {
	names := make([]string, len(staff))
	for i, s := range staff {
		names[i] = s.Name
	}
	m, ok := BestMatch(name, names, r.Threshold)
	if !ok {
		return sheets.StaffMember{}, false
	}
	return staff[m.Index], true
}

// MatchingCustomers returns every khata entry whose customer matches name.
func (r Resolver) MatchingCustomers(name string, entries []sheets.KhataEntry) []sheets.KhataEntry {
	var out []sheets.KhataEntry
	for _, e := range entries {
		if Score(name, e.Customer) >= r.Threshold {
			out = append(out, e)
		}
	}
	return out
}
