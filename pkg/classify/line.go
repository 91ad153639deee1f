// Package classify turns raw printer-port bytes into typed receipt lines.
//
// The Verifone Commander printer port emits ESC/POS-style control sequences
// interleaved with receipt text. This package strips the control codes,
// splits physical packets that concatenate two logical lines, and tags each
// cleaned line with one of a closed set of line types. All functions are
// pure and safe for concurrent use.
package classify

// LineType is the closed set of receipt line classifications.
type LineType string

const (
	TypeItem            LineType = "item"
	TypeTotal           LineType = "total"
	TypeCash            LineType = "cash"
	TypeDebit           LineType = "debit"
	TypeCredit          LineType = "credit"
	TypePreauth         LineType = "preauth"
	TypeEndHeader       LineType = "end_header"
	TypeCashier         LineType = "cashier"
	TypeAgeVerification LineType = "age_verification"
	TypeIgnore          LineType = "ignore"
	TypeEmpty           LineType = "empty"
	TypeUnknown         LineType = "unknown"
)

// IsTender reports whether the type is a payment tender line.
func (t LineType) IsTender() bool {
	switch t {
	case TypeCash, TypeDebit, TypeCredit, TypePreauth:
		return true
	}
	return false
}

// Line is a classified receipt line: a type tag plus the operands extracted
// for that type. Fields not applicable to the type are zero-valued.
type Line struct {
	Type LineType
	Text string // cleaned text the classification ran against

	// item, total, cash, debit, credit, preauth
	Amount *float64 // fixed two-decimal amount
	Qty    *float64 // signed, may be fractional (item only)

	// item
	Description string

	// end_header
	Store  string
	Drawer string
	TranNo string

	// cashier
	Cashier string

	// age_verification
	DOBStatus string // BYPASS, APPROVED, DENIED
	DOBTranNo string // optional Trans# reference
}

// Parsed reports whether classification extracted structure from the line.
// Only unknown lines are considered unparsed; they are still forwarded.
func (l *Line) Parsed() bool {
	return l.Type != TypeUnknown
}
