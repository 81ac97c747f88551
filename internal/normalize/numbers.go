package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// Grammar selects how thousands separators and decimal points are read.
type Grammar int

const (
	// GrammarA strips ',' as a thousands separator ("1,234.5").
	GrammarA Grammar = iota
	// GrammarB strips '.' as a thousands separator and reads ',' as the
	// decimal point ("1.234,50").
	GrammarB
)

// GrammarFor returns the numeric grammar of a source.
func GrammarFor(source domain.Source) Grammar {
	if source == domain.SourceUpload {
		return GrammarB
	}
	return GrammarA
}

// ParseAmount parses a monetary value. Blank, "-", "0" and unparsable text all
// read as zero.
func ParseAmount(s string, g Grammar) decimal.Decimal {
	s = strings.TrimSpace(s)
	if rest, ok := trimCurrency(s); ok {
		// "Rp." and "IDR." abbreviations
		s = strings.TrimPrefix(strings.TrimSpace(rest), ".")
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" || s == "-" || s == "0" {
		return decimal.Zero
	}

	switch g {
	case GrammarB:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func trimCurrency(s string) (string, bool) {
	for _, prefix := range []string{"Rp", "IDR"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			return rest, true
		}
	}
	return s, false
}
