package transform

import (
	"github.com/shopspring/decimal"

	"github.com/pitabwire/eapp/model"
)

// fundingMethod maps carrier spellings of a funding method to its canonical
// token.
func fundingMethod(s string) string {
	switch t := token(s); t {
	case "1035", "1035_exchange", "exchange_1035", "exchange1035", "exchange", "tax_free_exchange":
		return model.FundingExchange1035
	case "direct_transfer", "transfer", "trustee_to_trustee", "trustee_transfer":
		return model.FundingDirectTransfer
	default:
		return t
	}
}

// amountAttr is the answer holding the amount for a funding method. A
// definition may name it explicitly; otherwise the carrier spellings apply.
func (b *builder) amountAttr(method string) attr {
	for _, fm := range b.def.FundingMethods {
		if fundingMethod(fm.ID) == method && fm.AmountField != "" {
			return spell(fm.AmountField)
		}
	}
	switch method {
	case model.FundingExchange1035:
		return spell("exchange_1035_amount", "exchange_amount", "amount_1035").or("xchg_amt", "amt_1035")
	case model.FundingDirectTransfer:
		return spell("direct_transfer_amount", "transfer_amount").or("xfer_amt")
	case model.FundingCheck:
		return spell("check_amount").or("chk_amt")
	case model.FundingWire:
		return spell("wire_amount").or("wire_amt")
	default:
		return spell(method + "_amount")
	}
}

// funding sums the amounts of the selected methods only. A bare method
// listed twice counts once, but every {method, amount} row is its own source
// of funds. A method's top-level amount answer is used at most once. When
// nothing sums, the explicit total-premium answer is used instead.
func (b *builder) funding() model.Funding {
	selected := b.r.list(spell("funding_methods", "funding_method", "funding_sources").or("fund_src", "pay_method"))
	seen := make(map[string]bool, len(selected))
	methods := make([]model.FundingEntry, 0, len(selected))
	total := decimal.Zero

	for _, item := range selected {
		var method string
		var amount decimal.Decimal
		row, isRow := item.(model.Map)
		if isRow {
			r := resolver{answers: row}
			method = fundingMethod(r.text(spell("method", "type").or("mthd")))
			amount = r.number(spell("amount").or("amt"))
		} else {
			method = fundingMethod(model.AsString(item))
		}
		if method == "" || (!isRow && seen[method]) {
			continue
		}
		if amount.IsZero() && !seen[method] {
			amount = b.r.number(b.amountAttr(method))
		}
		seen[method] = true
		methods = append(methods, model.FundingEntry{Method: method, Amount: amount})
		total = total.Add(amount)
	}

	if total.IsZero() {
		total = b.r.number(spell("total_premium", "initial_premium", "premium_amount", "premium").or("prem", "init_prem"))
	}
	return model.Funding{Methods: methods, TotalPremium: total}
}

var allocationList = spell("allocations", "investment_allocations", "fund_allocations").or("alloc", "allocs")

// allocations takes percentages from the answers and every other fund
// attribute from the definition's catalog.
func (b *builder) allocations() []model.Allocation {
	catalog := b.def.FundCatalog()
	out := make([]model.Allocation, 0)

	add := func(fundID string, pct decimal.Decimal) {
		if fundID == "" || pct.IsZero() {
			return
		}
		fund := catalog[fundID]
		out = append(out, model.Allocation{
			FundID:          fundID,
			FundName:        fund.Name,
			CreditingMethod: fund.CreditingMethod,
			Index:           fund.Index,
			TermYears:       fund.TermYears,
			Fee:             fund.Fee,
			Percentage:      pct,
		})
	}

	// Some carriers send {fund_id: percentage} instead of rows.
	if byFund, ok := b.r.value(allocationList).(model.Map); ok {
		for _, id := range byFund.Keys() {
			add(id, toDecimal(byFund[id]))
		}
		return out
	}
	for _, row := range b.r.maps(allocationList) {
		r := resolver{answers: row}
		add(r.text(spell("fund_id", "strategy_id", "id").or("fund")), r.number(spell("percentage", "percent", "allocation").or("pct")))
	}
	return out
}
