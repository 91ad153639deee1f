package txn

import (
	"time"

	"github.com/google/uuid"

	"github.com/FFTY50/micromanager-pos-sub000/pkg/classify"
)

// State is the machine's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateInTxn
)

func (s State) String() string {
	if s == StateInTxn {
		return "IN_TXN"
	}
	return "IDLE"
}

// Callbacks are the narrow interface between the machine and the rest of the
// agent. All callbacks run synchronously on the ingest goroutine; OnEnd
// receives the finalized, immutable transaction.
type Callbacks struct {
	OnStart func(tx *Transaction)
	OnLine  func(tx *Transaction, ln *Line)
	OnEnd   func(tx *Transaction)
}

// Machine drives the IDLE -> IN_TXN -> IDLE transaction lifecycle.
// It is not safe for concurrent use; feed it from a single goroutine.
type Machine struct {
	cb    Callbacks
	state State
	cur   *Transaction
	pos   int

	now   func() time.Time
	newID func() string
}

// NewMachine creates a machine in the IDLE state.
func NewMachine(cb Callbacks) *Machine {
	return &Machine{
		cb:    cb,
		state: StateIdle,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// State returns the current lifecycle phase.
func (m *Machine) State() State {
	return m.state
}

// Current returns the in-flight transaction, or nil when idle.
func (m *Machine) Current() *Transaction {
	return m.cur
}

// Feed processes one physical line from the serial port: it strips printer
// control codes, splits mashed packets, classifies each logical line, and
// applies it to the state machine.
func (m *Machine) Feed(raw []byte) {
	cleaned := classify.Clean(raw)
	for _, part := range classify.SplitMashed(cleaned) {
		m.Apply(classify.Classify(part))
	}
}

// Apply advances the machine with a single classified line.
func (m *Machine) Apply(ln classify.Line) {
	switch ln.Type {
	case classify.TypeEmpty, classify.TypeIgnore:
		return
	}

	if m.state == StateIdle {
		if ln.Type == classify.TypeCashier {
			// A cashier stamp with no open transaction is a stray trailer.
			return
		}
		m.start()
	}

	switch ln.Type {
	case classify.TypeEndHeader:
		m.cur.Meta.StoreID = ln.Store
		m.cur.Meta.DrawerID = ln.Drawer
		m.cur.Meta.TranNo = ln.TranNo
		m.cur.Meta.HasHeader = true
		if ln.Cashier != "" {
			m.cur.Meta.Cashier = ln.Cashier
		}
		m.append(ln)
		// A header that carries the cashier stamp is an unsplittable mashed
		// packet; it both annotates and closes the transaction.
		if ln.Cashier != "" {
			m.finalize()
		}

	case classify.TypeCashier:
		m.cur.Meta.Cashier = ln.Cashier
		m.append(ln)
		m.finalize()

	default:
		m.append(ln)
	}
}

// Flush force-finalizes the in-flight transaction, if any. Used on shutdown
// so a half-observed receipt still reaches the queue.
func (m *Machine) Flush() {
	if m.state == StateInTxn {
		m.finalize()
	}
}

func (m *Machine) start() {
	m.cur = &Transaction{
		ID:        m.newID(),
		StartedAt: m.now().UTC(),
	}
	m.pos = 0
	m.state = StateInTxn
	if m.cb.OnStart != nil {
		m.cb.OnStart(m.cur)
	}
}

func (m *Machine) append(ln classify.Line) {
	l := Line{
		Line:      ln,
		Raw:       ln.Text,
		ArrivedAt: m.now().UTC(),
		Position:  m.pos,
	}
	m.pos++
	m.cur.Lines = append(m.cur.Lines, l)
	if m.cb.OnLine != nil {
		m.cb.OnLine(m.cur, &m.cur.Lines[len(m.cur.Lines)-1])
	}
}

func (m *Machine) finalize() {
	tx := m.cur
	tx.CompletedAt = m.now().UTC()
	tx.closed = true
	m.cur = nil
	m.pos = 0
	m.state = StateIdle
	if m.cb.OnEnd != nil {
		m.cb.OnEnd(tx)
	}
}
