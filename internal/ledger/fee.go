package ledger

import "github.com/shopspring/decimal"

var (
	MinFee  = decimal.RequireFromString("0.1")
	FeeRate = decimal.RequireFromString("0.001")
)

// Fee returns max(MinFee, amount * FeeRate). The fee is burned: no account receives it.
func Fee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(FeeRate)
	if fee.LessThan(MinFee) {
		return MinFee
	}
	return fee
}
