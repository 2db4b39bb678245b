package bom

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of decimal places monetary amounts are rounded to.
const AmountPlaces = 2

// Rollup summarizes an aggregated tree.
type Rollup struct {
	TotalMaterialCost float64  `json:"total_material_cost"`
	TotalItems        int      `json:"total_items"`
	MaxLevel          int      `json:"max_level"`
	Currencies        []string `json:"currencies"`
	// MixedCurrency is set when nodes carry different currencies. Amounts are still
	// summed as plain numbers; no conversion takes place.
	MixedCurrency bool `json:"mixed_currency"`
}

// Result is the nested form of an aggregation.
type Result struct {
	Items []Node `json:"items"`
	Rollup
}

// LineAmount returns round(quantity*rate, 2), rounding half away from zero.
func LineAmount(quantity, rate float64) (decimal.Decimal, bool) {
	if !finite(quantity) || !finite(rate) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(rate)).Round(AmountPlaces), true
}

// Aggregate overwrites every node's Amount and RollupCost and returns the totals.
// A node's amount depends only on its own quantity and rate; the document total is the
// sum of every node's amount across all levels.
func (t *Tree) Aggregate() (Rollup, error) {
	amounts := make([]decimal.Decimal, len(t.entries))
	var problems []Problem
	for i := range t.entries {
		e := &t.entries[i]
		amt, ok := LineAmount(e.node.Quantity, e.node.Rate)
		if ok && !finite(amt.InexactFloat64()) {
			ok = false
		}
		if !ok {
			problems = append(problems, Problem{
				Path:     e.path,
				ItemCode: normalizeCode(e.node.ItemCode),
				Code:     ProblemInvalidAmount,
				Message:  "amount is not a finite number",
			})
			continue
		}
		amounts[i] = amt
	}
	if len(problems) > 0 {
		return Rollup{}, &ValidationError{Problems: problems}
	}

	// Pre-order storage: walking backwards visits children before their parent.
	rollups := make([]decimal.Decimal, len(t.entries))
	for i := len(t.entries) - 1; i >= 0; i-- {
		sum := amounts[i]
		for _, c := range t.entries[i].children {
			sum = sum.Add(rollups[c])
		}
		rollups[i] = sum
	}

	total := decimal.Zero
	r := Rollup{TotalItems: len(t.entries), Currencies: []string{}}
	seen := map[string]struct{}{}
	for i := range t.entries {
		n := &t.entries[i].node
		n.Amount = amounts[i].InexactFloat64()
		n.RollupCost = rollups[i].InexactFloat64()
		total = total.Add(amounts[i])
		if n.Level > r.MaxLevel {
			r.MaxLevel = n.Level
		}
		if c := strings.ToUpper(strings.TrimSpace(n.Currency)); c != "" {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				r.Currencies = append(r.Currencies, c)
			}
		}
	}
	sort.Strings(r.Currencies)
	r.MixedCurrency = len(r.Currencies) > 1
	r.TotalMaterialCost = total.InexactFloat64()
	if math.IsInf(r.TotalMaterialCost, 0) {
		return Rollup{}, &ValidationError{Problems: []Problem{{
			Path:    "items",
			Code:    ProblemInvalidAmount,
			Message: "total material cost is not a finite number",
		}}}
	}
	return r, nil
}

// Aggregate is the standalone form: it flattens items, aggregates them and returns the
// nested tree with amounts filled in. It does not validate structure.
func Aggregate(items []Node) (Result, error) {
	t := NewTree(items)
	r, err := t.Aggregate()
	if err != nil {
		return Result{}, err
	}
	return Result{Items: t.Nodes(), Rollup: r}, nil
}
