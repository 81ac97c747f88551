// Package ledger splits a persisted transaction's paid amounts into
// category-scoped ledger entries for the external platform.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// FanOutAmounts computes the amount eligible for a ledger entry per category:
// paid minus that category's discount, clamped at zero.
//
// Uploads carry an aggregate payment discount instead of per-category
// discounts. When every category discount is zero it is taken from the
// procedure category only.
func FanOutAmounts(d *domain.Draft) map[domain.Category]decimal.Decimal {
	out := make(map[domain.Category]decimal.Decimal, len(domain.AllCategories()))
	for _, c := range domain.AllCategories() {
		out[c] = nonNegative(d.Paid.Get(c).Sub(d.Discount.Get(c)))
	}

	if d.Source == domain.SourceUpload && d.Discount.AllZero() && d.PaymentDiscount.IsPositive() {
		c := domain.CategoryProcedure
		out[c] = nonNegative(d.Paid.Get(c).Sub(d.PaymentDiscount))
	}
	return out
}

// RoundAmount rounds a fan-out amount to the platform's integral currency
// unit.
func RoundAmount(v decimal.Decimal) int64 {
	return v.Round(0).IntPart()
}

// AccountRefFor returns the account reference a ledger entry carries.
// Instant payments use the clinic's designated account. Other methods get the
// clinic's cash accounting code on the api path and nothing elsewhere.
func AccountRefFor(clinic *domain.Clinic, source domain.Source, paymentMethod string) string {
	if domain.IsInstantPayment(paymentMethod) {
		return clinic.AccountRef
	}
	if source == domain.SourceAPI {
		return clinic.CashAccountCode
	}
	return ""
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
