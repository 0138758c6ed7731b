package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Dialect interface {
	// ForUpdate is appended to a SELECT to take row locks.
	ForUpdate() string
	// TimeArg formats a time for use as a statement argument.
	TimeArg(t time.Time) any
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

type sqliteDialect struct{}

func (d sqliteDialect) ForUpdate() string       { return "" }
func (d sqliteDialect) TimeArg(t time.Time) any { return t.In(time.Local).Format(sqliteTimeLayout) }

type postgresDialect struct{}

func (d postgresDialect) ForUpdate() string       { return " FOR UPDATE" }
func (d postgresDialect) TimeArg(t time.Time) any { return t }

// QtyScale is the scale of every quantity column on Postgres, NUMERIC(18,4).
const QtyScale = 4

type qtyScanner struct{ d *decimal.Decimal }

// Scan rounds to QtyScale. SQLite hands NUMERIC values and SUM results back
// as float64, and the binary error must not reach the allocation maths.
func (s qtyScanner) Scan(v any) error {
	if err := s.d.Scan(v); err != nil {
		return err
	}
	*s.d = s.d.Round(QtyScale)
	return nil
}

// scanQty wraps a decimal destination for Scan.
func scanQty(d *decimal.Decimal) sql.Scanner { return qtyScanner{d} }

// parseTime converts a scanned timestamp value to time.Time.
// Handles both SQLite (returns string) and Postgres (returns time.Time).
// SQLite stores local wall-clock time without a zone.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTime(string(t))
	case string:
		if t == "" {
			return time.Time{}
		}
		if parsed, err := time.ParseInLocation(sqliteTimeLayout, t, time.Local); err == nil {
			return parsed
		}
		for _, layout := range []string{
			time.RFC3339,
			time.RFC3339Nano,
			"2006-01-02 15:04:05-07:00",
			"2006-01-02 15:04:05.999999-07:00",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// parseTimePtr is like parseTime but returns nil for zero/missing timestamps.
func parseTimePtr(v any) *time.Time {
	t := parseTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
