package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

var months = map[string]time.Month{
	"january": time.January, "jan": time.January, "januari": time.January,
	"february": time.February, "feb": time.February, "februari": time.February, "pebruari": time.February,
	"march": time.March, "mar": time.March, "maret": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May, "mei": time.May,
	"june": time.June, "jun": time.June, "juni": time.June,
	"july": time.July, "jul": time.July, "juli": time.July,
	"august": time.August, "aug": time.August, "agustus": time.August, "agu": time.August, "agt": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October, "oktober": time.October, "okt": time.October,
	"november": time.November, "nov": time.November, "nopember": time.November,
	"december": time.December, "dec": time.December, "desember": time.December, "des": time.December,
}

var (
	reDayMonthName = regexp.MustCompile(`^(\d{1,2})\s+([A-Za-z]+)\.?\s+(\d{4})$`)
	reDayMonthYear = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})[-/](\d{4})$`)
	reYearMonthDay = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	reSerial       = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// serialEpoch is day zero of spreadsheet serial dates.
var serialEpoch = civil.Date{Year: 1899, Month: time.December, Day: 30}

var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"02/01/2006 15:04",
}

// ParseDate parses a transaction date in any of the accepted layouts.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, invalidDate(s)
	}

	if m := reDayMonthName.FindStringSubmatch(s); m != nil {
		month, ok := months[strings.ToLower(m[2])]
		if !ok {
			return civil.Date{}, invalidDate(s)
		}
		return checkedDate(s, atoi(m[3]), int(month), atoi(m[1]))
	}
	if m := reDayMonthYear.FindStringSubmatch(s); m != nil {
		return checkedDate(s, atoi(m[3]), atoi(m[2]), atoi(m[1]))
	}
	if m := reYearMonthDay.FindStringSubmatch(s); m != nil {
		return checkedDate(s, atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if reSerial.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 1 {
			return civil.Date{}, invalidDate(s)
		}
		return serialEpoch.AddDays(int(f)), nil
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, invalidDate(s)
}

// SerialFromDate returns the spreadsheet serial of a date.
func SerialFromDate(d civil.Date) int {
	return d.DaysSince(serialEpoch)
}

// checkedDate rejects dates that do not survive a calendar round trip, such
// as 31 February.
func checkedDate(raw string, year, month, day int) (civil.Date, error) {
	if month < 1 || month > 12 || day < 1 {
		return civil.Date{}, invalidDate(raw)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return civil.Date{}, invalidDate(raw)
	}
	return civil.DateOf(t), nil
}

func invalidDate(raw string) error {
	return &domain.NormalizationError{Field: FieldDate, Value: raw, Reason: domain.ErrInvalidDate}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
