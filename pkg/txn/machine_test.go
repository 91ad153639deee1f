package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FFTY50/micromanager-pos-sub000/pkg/classify"
)

func testIdentity() Identity {
	return Identity{
		DeviceID:   "mmd-rv1-a1b2c3-1",
		DeviceName: "register-1",
		TerminalID: "mmd-rv1-a1b2c3-1",
		StoreID:    "store-default",
		DrawerID:   "drawer-default",
	}
}

// collector records machine callbacks for assertions.
type collector struct {
	started   []*Transaction
	lines     int
	completed []*Transaction
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnStart: func(tx *Transaction) { c.started = append(c.started, tx) },
		OnLine:  func(tx *Transaction, ln *Line) { c.lines++ },
		OnEnd:   func(tx *Transaction) { c.completed = append(c.completed, tx) },
	}
}

func feedAll(m *Machine, frames ...string) {
	for _, f := range frames {
		m.Feed([]byte(f))
	}
}

func TestStraightCashSale(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m,
		"L  Monster Blue Hawaiia   1        3.49",
		"   PROPEL GRAPE 20oz      1        2.29",
		"                       TOTAL       5.78",
		"                        CASH       6.00",
		"ST#1                   DR#1 TRAN#1028401 CSH: CORPORATE         07/23/25 10:15:15",
	)

	require.Len(t, c.completed, 1)
	tx := c.completed[0]
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, tx.Closed())
	require.Len(t, tx.Lines, 5)

	records := BuildLineRecords(tx, testIdentity())
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, i, r.Position)
		require.NotNil(t, r.TransactionNumber)
		assert.Equal(t, "1028401", *r.TransactionNumber)
		assert.Equal(t, "1", r.PosMetadata.DrawerID)
		assert.Equal(t, "1", r.PosMetadata.StoreID)
		assert.Equal(t, tx.ID, r.TransactionID)
	}

	sum := BuildSummary(tx, testIdentity())
	require.NotNil(t, sum.TotalAmount)
	assert.Equal(t, 5.78, *sum.TotalAmount)
	assert.Equal(t, 2, sum.ItemCount)
	assert.Equal(t, 5, sum.LineCount)
	require.NotNil(t, sum.CashAmount)
	assert.Equal(t, 6.00, *sum.CashAmount)
	assert.Nil(t, sum.CreditAmount)
	assert.Nil(t, sum.DebitAmount)
	assert.Nil(t, sum.PreauthAmount)
	require.NotNil(t, sum.TransactionNumber)
	assert.Equal(t, "1028401", *sum.TransactionNumber)
	assert.Equal(t, "CORPORATE", tx.Meta.Cashier)
}

func TestRefundItem(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m,
		"REFUND -1 -1.00",
		"TOTAL -1.00",
		"ST#1 DR#1 TRAN#99 07/23/25 10:15:15 001 CSH: ALICE",
	)

	require.Len(t, c.completed, 1)
	tx := c.completed[0]
	records := BuildLineRecords(tx, testIdentity())

	assert.Equal(t, string(classify.TypeItem), records[0].LineType)
	require.NotNil(t, records[0].Qty)
	require.NotNil(t, records[0].Amount)
	assert.Equal(t, -1.0, *records[0].Qty)
	assert.Equal(t, -1.00, *records[0].Amount)
	assert.True(t, records[0].ParsedSuccessfully)
}

func TestMashedHeaderAndCashierSplit(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m,
		"ITEM ONE 1 1.00",
		// One physical frame carrying both the trailer header and the
		// cashier stamp, separated by the receipt timestamp.
		"ST#7 DR#2 TRAN#555 07/23/25 10:15:15 001 CSH: BOB",
	)

	require.Len(t, c.completed, 1)
	tx := c.completed[0]
	// item + end_header + cashier: both mashed parts were emitted.
	require.Len(t, tx.Lines, 3)
	assert.Equal(t, classify.TypeEndHeader, tx.Lines[1].Type)
	assert.Equal(t, classify.TypeCashier, tx.Lines[2].Type)
	assert.Equal(t, "555", tx.Meta.TranNo)
	assert.Equal(t, "BOB", tx.Meta.Cashier)
	assert.Equal(t, StateIdle, m.State())
}

func TestPositionsDenseAndMonotonic(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m,
		"A 1 1.00",
		"",          // empty, skipped
		"ALARM x",   // ignored, skipped
		"B 2 2.00",
		"TOTAL 3.00",
		"CSH: EVE",
	)

	require.Len(t, c.completed, 1)
	tx := c.completed[0]
	require.Len(t, tx.Lines, 4)
	for i, ln := range tx.Lines {
		assert.Equal(t, i, ln.Position)
	}
}

func TestIdleIgnoresStrayLines(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m, "", "ALARM beep", "CSH: STRAY")

	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, c.started)
	assert.Empty(t, c.completed)
}

func TestUnknownLineStartsTransaction(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	m.Feed([]byte("THANK YOU COME AGAIN"))

	assert.Equal(t, StateInTxn, m.State())
	require.Len(t, c.started, 1)
	require.Len(t, m.Current().Lines, 1)
	assert.Equal(t, classify.TypeUnknown, m.Current().Lines[0].Type)
}

func TestNoHeaderMeansNullMetadata(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m,
		"WIDGET 1 2.00",
		"TOTAL 2.00",
		"CSH: MALLORY",
	)

	require.Len(t, c.completed, 1)
	tx := c.completed[0]
	records := BuildLineRecords(tx, testIdentity())
	for _, r := range records {
		assert.Nil(t, r.TransactionNumber)
		// Configured defaults stand in when the trailer never arrived.
		assert.Equal(t, "drawer-default", r.PosMetadata.DrawerID)
		assert.Equal(t, "store-default", r.PosMetadata.StoreID)
	}

	sum := BuildSummary(tx, testIdentity())
	assert.Nil(t, sum.TransactionNumber)
}

func TestTotalAmountIsLastTotalLine(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m,
		"A 1 1.00",
		"TOTAL 1.00",
		"B 1 2.00",
		"TOTAL 3.00",
		"CSH: X",
	)

	sum := BuildSummary(c.completed[0], testIdentity())
	require.NotNil(t, sum.TotalAmount)
	assert.Equal(t, 3.00, *sum.TotalAmount)
}

func TestNoTotalLineMeansNullTotal(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m, "A 1 1.00", "CSH: X")

	sum := BuildSummary(c.completed[0], testIdentity())
	assert.Nil(t, sum.TotalAmount)
}

func TestSplitTendersSumPerType(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m,
		"A 1 10.00",
		"TOTAL 10.00",
		"CASH 4.00",
		"CASH 2.00",
		"CREDIT 4.00",
		"CSH: X",
	)

	sum := BuildSummary(c.completed[0], testIdentity())
	require.NotNil(t, sum.CashAmount)
	assert.Equal(t, 6.00, *sum.CashAmount)
	require.NotNil(t, sum.CreditAmount)
	assert.Equal(t, 4.00, *sum.CreditAmount)
	assert.Nil(t, sum.DebitAmount)
}

func TestFlushFinalizesInFlight(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m, "A 1 1.00", "TOTAL 1.00")
	require.Len(t, c.completed, 0)

	m.Flush()
	require.Len(t, c.completed, 1)
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, c.completed[0].Closed())

	// A second flush is a no-op.
	m.Flush()
	assert.Len(t, c.completed, 1)
}

func TestConsecutiveTransactionsGetFreshIDs(t *testing.T) {
	var c collector
	m := NewMachine(c.callbacks())

	feedAll(m, "A 1 1.00", "CSH: X", "B 1 2.00", "CSH: Y")

	require.Len(t, c.completed, 2)
	assert.NotEqual(t, c.completed[0].ID, c.completed[1].ID)
	assert.Equal(t, 0, c.completed[1].Lines[0].Position)
}

type fakeEventRef struct {
	id, url string
	ok      bool
}

func (f *fakeEventRef) Event() (string, string, bool) { return f.id, f.url, f.ok }

func TestVideoRefAttachedToPayloads(t *testing.T) {
	var c collector
	cb := c.callbacks()
	onStart := cb.OnStart
	cb.OnStart = func(tx *Transaction) {
		tx.Video = &fakeEventRef{id: "ev-9", url: "http://nvr/api/events/ev-9", ok: true}
		onStart(tx)
	}
	m := NewMachine(cb)

	feedAll(m, "A 1 1.00", "CSH: X")

	tx := c.completed[0]
	records := BuildLineRecords(tx, testIdentity())
	for _, r := range records {
		assert.Equal(t, "http://nvr/api/events/ev-9", r.FrigateURL)
	}
	sum := BuildSummary(tx, testIdentity())
	require.NotNil(t, sum.FrigateEventID)
	assert.Equal(t, "ev-9", *sum.FrigateEventID)
}

func TestUnresolvedVideoRefStaysNull(t *testing.T) {
	var c collector
	cb := c.callbacks()
	onStart := cb.OnStart
	cb.OnStart = func(tx *Transaction) {
		tx.Video = &fakeEventRef{ok: false}
		onStart(tx)
	}
	m := NewMachine(cb)

	feedAll(m, "A 1 1.00", "CSH: X")

	tx := c.completed[0]
	for _, r := range BuildLineRecords(tx, testIdentity()) {
		assert.Empty(t, r.FrigateURL)
	}
	assert.Nil(t, BuildSummary(tx, testIdentity()).FrigateEventID)
}
