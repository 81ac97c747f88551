package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		grammar Grammar
		want    string
	}{
		{"grammar A thousands", "1,234", GrammarA, "1234"},
		{"grammar A decimal", "1,234.75", GrammarA, "1234.75"},
		{"grammar A currency prefix", "Rp 150,000", GrammarA, "150000"},
		{"grammar B decimal comma", "1.234,50", GrammarB, "1234.5"},
		{"grammar B millions", "Rp1.500.000", GrammarB, "1500000"},
		{"grammar B IDR prefix", "IDR 25.000", GrammarB, "25000"},
		{"grammar A dash", "-", GrammarA, "0"},
		{"grammar A blank", "", GrammarA, "0"},
		{"grammar A zero", "0", GrammarA, "0"},
		{"grammar B dash", "-", GrammarB, "0"},
		{"grammar B blank", "  ", GrammarB, "0"},
		{"grammar B zero", "0", GrammarB, "0"},
		{"unparsable reads as zero", "n/a", GrammarA, "0"},
		{"unparsable grammar B", "abc", GrammarB, "0"},
		{"grammar A leading decimal point", ".5", GrammarA, "0.5"},
		{"grammar A Rp. abbreviation", "Rp. 150,000", GrammarA, "150000"},
		{"grammar B Rp. abbreviation", "Rp.1.500.000", GrammarB, "1500000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAmount(tt.input, tt.grammar)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestGrammarFor(t *testing.T) {
	assert.Equal(t, GrammarA, GrammarFor(domain.SourceScrape))
	assert.Equal(t, GrammarA, GrammarFor(domain.SourceAPI))
	assert.Equal(t, GrammarB, GrammarFor(domain.SourceUpload))
}
