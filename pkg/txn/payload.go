package txn

import (
	"time"

	"github.com/FFTY50/micromanager-pos-sub000/pkg/classify"
)

// Identity is the static device context stamped into every payload.
type Identity struct {
	DeviceID   string
	DeviceName string
	TerminalID string
	// Defaults used until (or unless) the receipt trailer provides them.
	StoreID  string
	DrawerID string
}

// PosMetadata is the parser provenance block attached to every payload.
type PosMetadata struct {
	PosType       string `json:"pos_type"`
	ParserVersion string `json:"parser_version"`
	TerminalID    string `json:"terminal_id"`
	DrawerID      string `json:"drawer_id"`
	StoreID       string `json:"store_id"`
}

// LineRecord is the per-line wire payload delivered to the lines intake.
type LineRecord struct {
	DeviceID           string      `json:"device_id"`
	DeviceName         string      `json:"device_name"`
	DeviceTimestamp    string      `json:"device_timestamp"`
	TransactionID      string      `json:"transaction_id"`
	LineType           string      `json:"line_type"`
	Description        string      `json:"description,omitempty"`
	Qty                *float64    `json:"qty"`
	Amount             *float64    `json:"amount"`
	RawText            string      `json:"raw_text"`
	ParsedSuccessfully bool        `json:"parsed_successfully"`
	Position           int         `json:"position"`
	TransactionNumber  *string     `json:"transaction_number"`
	PosMetadata        PosMetadata `json:"pos_metadata"`
	FrigateURL         string      `json:"frigate_url,omitempty"`
}

// LinesPayload wraps a whole transaction's line records for batched posting.
type LinesPayload struct {
	Lines []LineRecord `json:"lines"`
}

// Summary is the per-transaction wire payload delivered to the transactions
// intake.
type Summary struct {
	DeviceID          string      `json:"device_id"`
	DeviceName        string      `json:"device_name"`
	TransactionID     string      `json:"transaction_id"`
	TerminalID        string      `json:"terminal_id"`
	PosType           string      `json:"pos_type"`
	TransactionNumber *string     `json:"transaction_number"`
	TotalAmount       *float64    `json:"total_amount"`
	ItemCount         int         `json:"item_count"`
	LineCount         int         `json:"line_count"`
	CashAmount        *float64    `json:"cash_amount"`
	CreditAmount      *float64    `json:"credit_amount"`
	DebitAmount       *float64    `json:"debit_amount"`
	PreauthAmount     *float64    `json:"preauth_amount"`
	StartedAt         string      `json:"started_at"`
	CompletedAt       string      `json:"completed_at"`
	FrigateEventID    *string     `json:"frigate_event_id"`
	PosMetadata       PosMetadata `json:"pos_metadata"`
}

// posMetadata resolves the metadata block for a transaction: receipt trailer
// values win over configured defaults, which is how header discovery
// back-fills every line of the transaction.
func posMetadata(tx *Transaction, id Identity) PosMetadata {
	meta := PosMetadata{
		PosType:       PosType,
		ParserVersion: ParserVersion,
		TerminalID:    id.TerminalID,
		DrawerID:      id.DrawerID,
		StoreID:       id.StoreID,
	}
	if tx.Meta.HasHeader {
		meta.DrawerID = tx.Meta.DrawerID
		meta.StoreID = tx.Meta.StoreID
	}
	return meta
}

func transactionNumber(tx *Transaction) *string {
	if !tx.Meta.HasHeader || tx.Meta.TranNo == "" {
		return nil
	}
	n := tx.Meta.TranNo
	return &n
}

// BuildLineRecords materializes the per-line records for a finalized
// transaction. Metadata discovered mid-transaction is applied to every line,
// including those that arrived before the header.
func BuildLineRecords(tx *Transaction, id Identity) []LineRecord {
	meta := posMetadata(tx, id)
	tranNo := transactionNumber(tx)

	var eventURL string
	if tx.Video != nil {
		if _, url, ok := tx.Video.Event(); ok {
			eventURL = url
		}
	}

	records := make([]LineRecord, 0, len(tx.Lines))
	for i := range tx.Lines {
		ln := &tx.Lines[i]
		records = append(records, LineRecord{
			DeviceID:           id.DeviceID,
			DeviceName:         id.DeviceName,
			DeviceTimestamp:    ln.ArrivedAt.UTC().Format(time.RFC3339),
			TransactionID:      tx.ID,
			LineType:           string(ln.Type),
			Description:        ln.Description,
			Qty:                ln.Qty,
			Amount:             ln.Amount,
			RawText:            ln.Raw,
			ParsedSuccessfully: ln.Parsed(),
			Position:           ln.Position,
			TransactionNumber:  tranNo,
			PosMetadata:        meta,
			FrigateURL:         eventURL,
		})
	}
	return records
}

// BuildSummary materializes the transaction summary payload.
func BuildSummary(tx *Transaction, id Identity) Summary {
	var eventID *string
	if tx.Video != nil {
		if evID, _, ok := tx.Video.Event(); ok {
			eventID = &evID
		}
	}

	return Summary{
		DeviceID:          id.DeviceID,
		DeviceName:        id.DeviceName,
		TransactionID:     tx.ID,
		TerminalID:        id.TerminalID,
		PosType:           PosType,
		TransactionNumber: transactionNumber(tx),
		TotalAmount:       tx.TotalAmount(),
		ItemCount:         tx.ItemCount(),
		LineCount:         len(tx.Lines),
		CashAmount:        tx.TenderTotal(classify.TypeCash),
		CreditAmount:      tx.TenderTotal(classify.TypeCredit),
		DebitAmount:       tx.TenderTotal(classify.TypeDebit),
		PreauthAmount:     tx.TenderTotal(classify.TypePreauth),
		StartedAt:         tx.StartedAt.UTC().Format(time.RFC3339),
		CompletedAt:       tx.CompletedAt.UTC().Format(time.RFC3339),
		FrigateEventID:    eventID,
		PosMetadata:       posMetadata(tx, id),
	}
}
