// Package spreadsheet reads uploaded billing workbooks into raw rows keyed by
// column header.
package spreadsheet

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/normalize"
)

// AliasSource returns the accepted header names of a logical field.
type AliasSource interface {
	Aliases(field string) []string
}

// Sheet is the first worksheet of a workbook.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []map[string]string
}

// Reader parses workbooks. Numeric cells are rewritten into the upload
// number grammar ("150000,5"); numeric cells under a date header keep their
// whole day serial.
type Reader struct {
	aliases     AliasSource
	dateHeaders map[string]bool
}

// NewReader creates a Reader over the normalizer's alias table.
func NewReader(aliases AliasSource) *Reader {
	dates := make(map[string]bool)
	for _, a := range aliases.Aliases(normalize.FieldDate) {
		dates[headerKey(a)] = true
	}
	return &Reader{aliases: aliases, dateHeaders: dates}
}

var reNumeric = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][-+]?\d+)?$`)

// ParseXLSX reads the first worksheet. The first row is the header row.
// Trailing blank rows are dropped; blank rows in between are kept so row
// numbers still match the sheet.
func (r *Reader) ParseXLSX(src io.Reader) (*Sheet, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", domain.ErrMalformedEnvelope, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrMalformedEnvelope)
	}
	name := sheets[0]

	grid, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("ParseXLSX: reading sheet %q: %w", name, err)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: sheet %q has no header row", domain.ErrMalformedEnvelope, name)
	}

	headers := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		headers[i] = strings.TrimSpace(h)
	}

	last := len(grid) - 1
	for last > 0 && blank(grid[last]) {
		last--
	}

	rows := make([]map[string]string, 0, last)
	for i := 1; i <= last; i++ {
		row := make(map[string]string, len(headers))
		for col, h := range headers {
			if h == "" {
				continue
			}
			value := ""
			if col < len(grid[i]) {
				value, err = r.cellText(f, name, col, i, h, grid[i][col])
				if err != nil {
					return nil, err
				}
			}
			if prev, seen := row[h]; seen && strings.TrimSpace(value) == "" && prev != "" {
				continue
			}
			row[h] = value
		}
		rows = append(rows, row)
	}

	return &Sheet{Name: name, Headers: headers, Rows: rows}, nil
}

func (r *Reader) cellText(f *excelize.File, sheet string, col, row int, header, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !reNumeric.MatchString(raw) {
		return raw, nil
	}

	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return "", fmt.Errorf("ParseXLSX: cell name: %w", err)
	}
	typ, err := f.GetCellType(sheet, cell)
	if err != nil {
		return "", fmt.Errorf("ParseXLSX: cell type %s: %w", cell, err)
	}
	// Text cells such as record numbers keep their leading zeros.
	if typ != excelize.CellTypeNumber && typ != excelize.CellTypeUnset {
		return raw, nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw, nil
	}
	if r.dateHeaders[headerKey(header)] {
		return d.Truncate(0).String(), nil
	}
	return strings.Replace(d.String(), ".", ",", 1), nil
}

// UploadFields lists the logical fields an upload must carry. The clinic id
// column is only required when the request names no clinic.
func UploadFields(clinicFromRequest bool) []string {
	fields := []string{
		normalize.FieldRecordNumber,
		normalize.FieldDate,
		normalize.FieldPoly,
		normalize.TotalKey(normalize.GroupBill),
	}
	if !clinicFromRequest {
		fields = append([]string{normalize.FieldClinicID}, fields...)
	}
	return fields
}

// ValidateHeaders checks that every field has at least one accepted header.
// It runs before any row is processed.
func (r *Reader) ValidateHeaders(headers []string, fields []string) error {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[headerKey(h)] = true
	}

	var missing []string
	for _, field := range fields {
		found := false
		for _, a := range r.aliases.Aliases(field) {
			if present[headerKey(a)] {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing columns: %s", domain.ErrMalformedEnvelope, strings.Join(missing, ", "))
	}
	return nil
}

func headerKey(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
