// Package txn groups classified receipt lines into transactions.
//
// A transaction opens on the first meaningful line out of the classifier and
// closes when the cashier stamp is observed. Receipt metadata (store, drawer,
// transaction number, cashier) is discovered mid-stream and back-filled onto
// every line of the transaction before emission. The state machine is driven
// from a single goroutine (the serial ingest task) and communicates with the
// rest of the agent through narrow callbacks.
package txn

import (
	"time"

	"github.com/FFTY50/micromanager-pos-sub000/pkg/classify"
)

// PosType identifies the only POS family this agent decodes.
const PosType = "verifone_commander"

// ParserVersion is stamped into every emitted pos_metadata block.
const ParserVersion = "1.0.0"

// EventRef resolves to a recorded video event once the NVR create call
// returns. Implementations must be safe for concurrent use; a nil ref means
// no event was started.
type EventRef interface {
	// Event returns the event id and URL. ok is false while the create call
	// is in flight, after it failed, or when video is disabled.
	Event() (id string, url string, ok bool)
}

// Line is a classified line plus its arrival bookkeeping within a
// transaction.
type Line struct {
	classify.Line

	Raw       string    // cleaned text as fed to the classifier
	ArrivedAt time.Time // wall clock at ingest
	Position  int       // dense zero-based ordinal within the transaction
}

// Metadata is the receipt trailer data attached to a transaction as it is
// discovered.
type Metadata struct {
	StoreID   string
	DrawerID  string
	TranNo    string
	Cashier   string
	HasHeader bool
}

// Transaction is an in-flight or completed receipt. It is owned exclusively
// by the state machine until finalization; after Close it must be treated as
// immutable.
type Transaction struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Lines       []Line
	Meta        Metadata

	// Video is the handle to the NVR event bracketing this transaction.
	// Nil when video is disabled or the event could not be started.
	Video EventRef

	closed bool
}

// Closed reports whether the transaction has been finalized.
func (t *Transaction) Closed() bool {
	return t.closed
}

// TotalAmount returns the amount of the last total line, or nil if the
// receipt never printed one.
func (t *Transaction) TotalAmount() *float64 {
	var total *float64
	for i := range t.Lines {
		if t.Lines[i].Type == classify.TypeTotal {
			total = t.Lines[i].Amount
		}
	}
	return total
}

// ItemCount returns the number of item lines.
func (t *Transaction) ItemCount() int {
	n := 0
	for i := range t.Lines {
		if t.Lines[i].Type == classify.TypeItem {
			n++
		}
	}
	return n
}

// TenderTotal sums the amounts of all lines of the given tender type.
// It returns nil, not zero, when no line of that tender occurred.
func (t *Transaction) TenderTotal(typ classify.LineType) *float64 {
	var sum float64
	found := false
	for i := range t.Lines {
		if t.Lines[i].Type == typ && t.Lines[i].Amount != nil {
			sum += *t.Lines[i].Amount
			found = true
		}
	}
	if !found {
		return nil
	}
	return &sum
}
