package spreadsheet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/normalize"
)

// buildWorkbook writes rows (header first) into the default sheet.
func buildWorkbook(t *testing.T, rows [][]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cell, v))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestParseXLSX_RawValues(t *testing.T) {
	src := buildWorkbook(t, [][]any{
		{"Tanggal", "No. RM", "Nama Pasien", "Poli", "Total Tagihan", "Dibayar Tindakan"},
		{46050, "00123", "Siti Aminah", "Poli Gigi", 150000, 150000.5},
		{"28-01-2026", "00456", "Budi", "Poli Umum", "75.000", nil},
		{nil, nil, nil, nil, nil, nil},
	})

	sheet, err := NewReader(normalize.New()).ParseXLSX(src)
	require.NoError(t, err)

	assert.Equal(t, "Sheet1", sheet.Name)
	assert.Equal(t, []string{"Tanggal", "No. RM", "Nama Pasien", "Poli", "Total Tagihan", "Dibayar Tindakan"}, sheet.Headers)
	require.Len(t, sheet.Rows, 2, "trailing blank rows are dropped")

	first := sheet.Rows[0]
	assert.Equal(t, "46050", first["Tanggal"])
	assert.Equal(t, "00123", first["No. RM"])
	assert.Equal(t, "150000", first["Total Tagihan"])
	assert.Equal(t, "150000,5", first["Dibayar Tindakan"])

	second := sheet.Rows[1]
	assert.Equal(t, "28-01-2026", second["Tanggal"])
	assert.Equal(t, "75.000", second["Total Tagihan"])
	assert.Equal(t, "", second["Dibayar Tindakan"])
}

func TestParseXLSX_NormalizesAsUpload(t *testing.T) {
	src := buildWorkbook(t, [][]any{
		{"Tanggal", "No. RM", "Poli", "Total Tagihan", "Dibayar Tindakan"},
		{46050, "00123", "Poli Gigi", 150000, 150000.5},
	})
	n := normalize.New()

	sheet, err := NewReader(n).ParseXLSX(src)
	require.NoError(t, err)

	draft, err := n.Normalize(sheet.Rows[0], 9, domain.SourceUpload)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-28", draft.Date.String())
	assert.Equal(t, "150000", draft.Bill.Total.String())
	assert.Equal(t, "150000.5", draft.Paid.Get(domain.CategoryProcedure).String())
}

func TestParseXLSX_NotAWorkbook(t *testing.T) {
	_, err := NewReader(normalize.New()).ParseXLSX(bytes.NewReader([]byte("No. RM,Tanggal\n1,2")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMalformedEnvelope))
}

func TestValidateHeaders(t *testing.T) {
	r := NewReader(normalize.New())

	tests := []struct {
		name              string
		headers           []string
		clinicFromRequest bool
		wantMissing       string
	}{
		{
			name:              "single clinic upload",
			headers:           []string{"Tanggal", "No. RM", "Poli", "Total Tagihan"},
			clinicFromRequest: true,
		},
		{
			name:    "multi clinic upload",
			headers: []string{"ID Klinik", "tanggal ", "no rm", "Poliklinik", "Total Bill"},
		},
		{
			name:        "multi clinic upload without clinic column",
			headers:     []string{"Tanggal", "No. RM", "Poli", "Total Tagihan"},
			wantMissing: "clinic_id",
		},
		{
			name:              "missing total billed",
			headers:           []string{"Tanggal", "No. RM", "Poli", "Dibayar Tindakan"},
			clinicFromRequest: true,
			wantMissing:       "bill_total",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateHeaders(tt.headers, UploadFields(tt.clinicFromRequest))
			if tt.wantMissing == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedEnvelope))
			assert.Contains(t, err.Error(), tt.wantMissing)
		})
	}
}
