package domain

// Clinic is the tenant boundary. OfficeCode is the external platform's office
// key; AccountRef is the designated account for instant payments and
// CashAccountCode the accounting code used for other payment methods.
type Clinic struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	OfficeCode      string `json:"office_code"`
	AccountRef      string `json:"account_ref"`
	CashAccountCode string `json:"cash_account_code"`
	Active          bool   `json:"active"`
}
