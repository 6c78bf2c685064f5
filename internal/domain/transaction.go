package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SuspiciousThreshold is the amount above which a transaction is flagged.
const SuspiciousThreshold = 50000

// Transaction is one validated or rejected CSV row. Immutable after
// creation; insertion order follows the source file's row order.
type Transaction struct {
	ID            int64           `db:"id"`
	JobID         string          `db:"job_id"`
	TransactionID string          `db:"transaction_id"`
	// UserID is the raw user reference from the CSV row. It does not have
	// to resolve to a registered account.
	UserID       string          `db:"user_id"`
	Amount       decimal.Decimal `db:"amount"`
	Timestamp    time.Time       `db:"timestamp"`
	IsValid      bool            `db:"is_valid"`
	IsSuspicious bool            `db:"is_suspicious"`
	ErrorMessage string          `db:"error_message"`
}

// TransactionFilter selects which rows a transaction listing returns.
type TransactionFilter string

const (
	FilterNone       TransactionFilter = ""
	FilterValid      TransactionFilter = "valid"
	FilterInvalid    TransactionFilter = "invalid"
	FilterSuspicious TransactionFilter = "suspicious"
)

// ChunkTally holds the per-chunk counter deltas produced by validation.
type ChunkTally struct {
	Processed  int
	Valid      int
	Invalid    int
	Suspicious int
}

// Add accumulates another tally into t.
func (t *ChunkTally) Add(other ChunkTally) {
	t.Processed += other.Processed
	t.Valid += other.Valid
	t.Invalid += other.Invalid
	t.Suspicious += other.Suspicious
}
