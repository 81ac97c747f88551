package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Category is one billing category a transaction's amounts are split into.
type Category string

const (
	CategoryRegistration    Category = "registration"
	CategoryProcedure       Category = "procedure"
	CategoryLab             Category = "lab"
	CategoryPharmacy        Category = "pharmacy"
	CategoryMedicalSupplies Category = "medical_supplies"
	CategoryCheckup         Category = "checkup"
	CategoryRadiology       Category = "radiology"
	CategoryOther           Category = "other"
)

var allCategories = []Category{
	CategoryRegistration,
	CategoryProcedure,
	CategoryLab,
	CategoryPharmacy,
	CategoryMedicalSupplies,
	CategoryCheckup,
	CategoryRadiology,
	CategoryOther,
}

// AllCategories returns every category in fan-out order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Label returns the display label used in ledger notes.
func (c Category) Label() string {
	switch c {
	case CategoryRegistration:
		return "Registration"
	case CategoryProcedure:
		return "Procedure"
	case CategoryLab:
		return "Laboratory"
	case CategoryPharmacy:
		return "Pharmacy"
	case CategoryMedicalSupplies:
		return "Medical Supplies"
	case CategoryCheckup:
		return "Checkup"
	case CategoryRadiology:
		return "Radiology"
	case CategoryOther:
		return "Other"
	}
	return strings.ReplaceAll(string(c), "_", " ")
}

// Amounts holds one group of per-category monetary amounts plus its total.
// A missing category always reads as zero.
type Amounts struct {
	ByCategory map[Category]decimal.Decimal `json:"by_category"`
	Total      decimal.Decimal              `json:"total"`
}

// NewAmounts returns an Amounts with every category set to zero.
func NewAmounts() Amounts {
	a := Amounts{ByCategory: make(map[Category]decimal.Decimal, len(allCategories))}
	for _, c := range allCategories {
		a.ByCategory[c] = decimal.Zero
	}
	return a
}

// Get returns the amount for a category, zero when absent.
func (a Amounts) Get(c Category) decimal.Decimal {
	if a.ByCategory == nil {
		return decimal.Zero
	}
	v, ok := a.ByCategory[c]
	if !ok {
		return decimal.Zero
	}
	return v
}

// Set stores the amount for a category.
func (a *Amounts) Set(c Category, v decimal.Decimal) {
	if a.ByCategory == nil {
		a.ByCategory = make(map[Category]decimal.Decimal, len(allCategories))
	}
	a.ByCategory[c] = v
}

// AllZero reports whether every category amount is zero.
func (a Amounts) AllZero() bool {
	for _, c := range allCategories {
		if !a.Get(c).IsZero() {
			return false
		}
	}
	return true
}

// CategoryMapping maps a category to the external platform's program code.
type CategoryMapping struct {
	Category    Category `json:"category"`
	ProgramCode string   `json:"program_code"`
}
