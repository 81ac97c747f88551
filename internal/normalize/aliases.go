package normalize

import (
	"strings"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// Logical field names used as keys of the alias table.
const (
	FieldDate              = "date"
	FieldTransactionNumber = "transaction_number"
	FieldRecordNumber      = "record_number"
	FieldPatientName       = "patient_name"
	FieldPoly              = "poly"
	FieldInsurance         = "insurance"
	FieldPaymentMethod     = "payment_method"
	FieldVoucher           = "voucher_code"
	FieldPaymentDiscount   = "payment_discount"
	FieldClinicID          = "clinic_id"
)

// Amount groups. The canonical key of an amount field is "<group>_<category>"
// and of a group total "<group>_total".
const (
	GroupBill       = "bill"
	GroupDiscount   = "discount"
	GroupCovered    = "covered"
	GroupPaid       = "paid"
	GroupReceivable = "receivable"
)

var groupLabels = map[string][]string{
	GroupBill:       {"Bill", "Billed", "Tagihan"},
	GroupDiscount:   {"Discount", "Diskon"},
	GroupCovered:    {"Covered", "Insurer", "Ditanggung", "Dibayar Asuransi"},
	GroupPaid:       {"Paid", "Patient Paid", "Dibayar", "Dibayar Pasien", "Bayar"},
	GroupReceivable: {"Receivable", "Piutang"},
}

var categoryLabels = map[domain.Category][]string{
	domain.CategoryRegistration:    {"Registration", "Pendaftaran", "Admin"},
	domain.CategoryProcedure:       {"Procedure", "Tindakan"},
	domain.CategoryLab:             {"Lab", "Laboratory", "Laboratorium"},
	domain.CategoryPharmacy:        {"Pharmacy", "Obat", "Farmasi"},
	domain.CategoryMedicalSupplies: {"Medical Supplies", "Alkes", "BHP"},
	domain.CategoryCheckup:         {"Checkup", "MCU", "Medical Checkup"},
	domain.CategoryRadiology:       {"Radiology", "Radiologi"},
	domain.CategoryOther:           {"Other", "Lain-lain", "Lainnya"},
}

// baseAliases ranks the accepted key names per logical field: canonical keys
// first, then the bilingual column labels the portal and spreadsheets use.
var baseAliases = map[string][]string{
	FieldDate:              {"date", "trx_date", "transaction_date", "Tanggal", "Tgl", "Tanggal Transaksi", "Transaction Date", "Tgl Transaksi"},
	FieldTransactionNumber: {"transaction_number", "trx_no", "No. Transaksi", "No Transaksi", "Transaction No", "No. Invoice", "Invoice"},
	FieldRecordNumber:      {"record_number", "no_rm", "rm", "No. RM", "No RM", "No. Rekam Medis", "Medical Record No", "MR No"},
	FieldPatientName:       {"patient_name", "Nama Pasien", "Patient Name", "Nama", "Name"},
	FieldPoly:              {"poly", "polyclinic", "Poli", "Poliklinik", "Polyclinic", "Unit"},
	FieldInsurance:         {"insurance", "Penjamin", "Asuransi", "Insurance", "Payer"},
	FieldPaymentMethod:     {"payment_method", "Metode Bayar", "Metode Pembayaran", "Cara Bayar", "Payment Method"},
	FieldVoucher:           {"voucher_code", "voucher", "Kode Voucher", "Voucher"},
	FieldPaymentDiscount:   {"payment_discount", "Diskon Pembayaran", "Payment Discount"},
	FieldClinicID:          {"clinic_id", "Clinic ID", "ID Klinik", "Klinik ID"},
}

// AmountKey returns the canonical key of a per-category amount field.
func AmountKey(group string, c domain.Category) string {
	return group + "_" + string(c)
}

// TotalKey returns the canonical key of a group total.
func TotalKey(group string) string {
	return group + "_total"
}

func buildAliases() map[string][]string {
	out := make(map[string][]string, len(baseAliases)+len(groupLabels)*(len(categoryLabels)+1))
	for k, v := range baseAliases {
		out[k] = v
	}
	for group, gLabels := range groupLabels {
		for c, cLabels := range categoryLabels {
			aliases := []string{AmountKey(group, c)}
			for _, g := range gLabels {
				for _, cl := range cLabels {
					aliases = append(aliases, g+" "+cl)
				}
			}
			out[AmountKey(group, c)] = aliases
		}
		totals := []string{TotalKey(group)}
		for _, g := range gLabels {
			totals = append(totals, "Total "+g, g+" Total")
		}
		out[TotalKey(group)] = totals
	}
	return out
}

// keyIndex resolves aliases against one raw row. Keys are compared after
// lowercasing and collapsing whitespace.
type keyIndex map[string]string

func indexRow(raw map[string]string) keyIndex {
	idx := make(keyIndex, len(raw))
	for k, v := range raw {
		nk := normalizeKey(k)
		if _, seen := idx[nk]; seen && strings.TrimSpace(v) == "" {
			continue
		}
		idx[nk] = v
	}
	return idx
}

// first returns the value of the first alias present with a non-blank value.
func (idx keyIndex) first(aliases []string) (string, bool) {
	for _, a := range aliases {
		if v, ok := idx[normalizeKey(a)]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func normalizeKey(k string) string {
	return strings.Join(strings.Fields(strings.ToLower(k)), " ")
}
