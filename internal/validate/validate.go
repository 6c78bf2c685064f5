// Package validate holds the pure row validation rules applied to every
// CSV record before it is persisted as a transaction.
package validate

import (
	"time"

	"github.com/shopspring/decimal"
)

// Raw CSV row error reasons. First error wins: a row keeps the reason of
// the first rule that failed and later failures do not overwrite it.
const (
	ReasonInvalidTimestamp = "Invalid timestamp"
	ReasonInvalidAmount    = "Invalid amount"
)

// timestampLayouts are the accepted ISO-8601 shapes, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// now is swapped out in tests to pin the invalid-timestamp placeholder.
var now = time.Now

// Record is one raw CSV row, fields mapped by header name.
type Record struct {
	TransactionID string
	UserID        string
	Amount        string
	Timestamp     string
}

// Result is the outcome of validating one record.
type Result struct {
	Amount       decimal.Decimal
	Timestamp    time.Time
	Valid        bool
	Suspicious   bool
	ErrorMessage string
}

var suspiciousCeiling = decimal.NewFromInt(50000)

// Row validates a single record. Rules, in order:
//
//  1. Timestamp must parse as ISO-8601; on failure the row is invalid with
//     reason "Invalid timestamp" and the current wall-clock time stands in
//     so the stored timestamp is never zero.
//  2. Amount must parse as a decimal; on failure the reason is
//     "Invalid amount" unless an earlier rule already set one, and the
//     amount is stored as 0.
//  3. The suspicious flag (amount < 0 or amount > 50000) is computed from
//     the parsed amount independently of validity, so an invalid row can
//     still be suspicious when its amount parsed cleanly.
func Row(rec Record) Result {
	res := Result{Valid: true, Timestamp: now()}

	if ts, err := parseTimestamp(rec.Timestamp); err == nil {
		res.Timestamp = ts
	} else {
		res.Valid = false
		res.ErrorMessage = ReasonInvalidTimestamp
	}

	amount, amountErr := decimal.NewFromString(rec.Amount)
	if amountErr != nil {
		if res.ErrorMessage == "" {
			res.ErrorMessage = ReasonInvalidAmount
		}
		res.Valid = false
		amount = decimal.Zero
	}
	res.Amount = amount

	if amountErr == nil {
		res.Suspicious = amount.IsNegative() || amount.GreaterThan(suspiciousCeiling)
	}

	return res
}

func parseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
