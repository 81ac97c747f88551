package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// Normalizer converts raw rows of any source into canonical drafts.
type Normalizer struct {
	aliases map[string][]string
}

// New returns a Normalizer with the built-in alias table.
func New() *Normalizer {
	return &Normalizer{aliases: buildAliases()}
}

// Aliases returns the accepted key names for a logical field.
func (n *Normalizer) Aliases(field string) []string {
	return n.aliases[field]
}

// Normalize builds a draft from one raw row. Only an unparsable date fails;
// every amount not present in the row reads as zero.
func (n *Normalizer) Normalize(raw map[string]string, clinicID int64, source domain.Source) (*domain.Draft, error) {
	idx := indexRow(raw)
	g := GrammarFor(source)

	draft := domain.NewDraft(clinicID, source)
	draft.Raw = copyRaw(raw)

	dateText, _ := idx.first(n.aliases[FieldDate])
	date, err := ParseDate(dateText)
	if err != nil {
		return nil, err
	}
	draft.Date = date

	draft.TransactionNumber, _ = idx.first(n.aliases[FieldTransactionNumber])
	draft.RecordNumber, _ = idx.first(n.aliases[FieldRecordNumber])
	draft.PatientName, _ = idx.first(n.aliases[FieldPatientName])
	draft.RawPoly, _ = idx.first(n.aliases[FieldPoly])
	draft.RawInsurance, _ = idx.first(n.aliases[FieldInsurance])
	draft.PaymentMethod, _ = idx.first(n.aliases[FieldPaymentMethod])
	draft.VoucherCode, _ = idx.first(n.aliases[FieldVoucher])

	draft.Bill = n.readGroup(idx, GroupBill, g)
	draft.Discount = n.readGroup(idx, GroupDiscount, g)
	draft.Covered = n.readGroup(idx, GroupCovered, g)
	draft.Paid = n.readGroup(idx, GroupPaid, g)
	draft.Receivable = n.readGroup(idx, GroupReceivable, g)

	if source == domain.SourceUpload {
		if v, ok := idx.first(n.aliases[FieldPaymentDiscount]); ok {
			draft.PaymentDiscount = ParseAmount(v, g)
		}
	}
	return draft, nil
}

// RowClinicID returns the per-row clinic id column, if any.
func (n *Normalizer) RowClinicID(raw map[string]string) (string, bool) {
	return indexRow(raw).first(n.aliases[FieldClinicID])
}

func (n *Normalizer) readGroup(idx keyIndex, group string, g Grammar) domain.Amounts {
	a := domain.NewAmounts()
	sum := decimal.Zero
	for _, c := range domain.AllCategories() {
		if v, ok := idx.first(n.aliases[AmountKey(group, c)]); ok {
			amt := ParseAmount(v, g)
			a.Set(c, amt)
			sum = sum.Add(amt)
		}
	}
	if v, ok := idx.first(n.aliases[TotalKey(group)]); ok {
		a.Total = ParseAmount(v, g)
	} else {
		a.Total = sum
	}
	return a
}

func copyRaw(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.TrimSpace(k)] = v
	}
	return out
}
