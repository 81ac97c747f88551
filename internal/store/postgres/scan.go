package postgres

import (
	"database/sql"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func toDate(t time.Time) civil.Date {
	return civil.DateOf(t)
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
