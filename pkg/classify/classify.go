package classify

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	endHeaderPattern = regexp.MustCompile(`\bST#(\S+)\s+DR#(\S+)\s+TRAN#(\d+)`)
	cashierPattern   = regexp.MustCompile(`\bCSH:\s*([A-Z0-9 .'-]+)`)
	ageVerifyPattern = regexp.MustCompile(`DOB Verification:\s*(BYPASS|APPROVED|DENIED)(?:.*?Trans#(\d+))?`)
	itemPattern      = regexp.MustCompile(`^(.+?)\s+(-?\d+(?:\.\d+)?)\s+(-?\d+(?:\.\d{1,2})?)$`)
	datePattern      = regexp.MustCompile(`\d{2}/\d{2}/\d{2}`)

	// Tender and total lines are anchored: keyword, whitespace, amount,
	// nothing else. Order matters for first-match-wins classification.
	tenderPatterns = []struct {
		typ LineType
		re  *regexp.Regexp
	}{
		{TypeTotal, regexp.MustCompile(`^TOTAL\s+(-?\d+(?:\.\d{1,2})?)$`)},
		{TypeCash, regexp.MustCompile(`^CASH\s+(-?\d+(?:\.\d{1,2})?)$`)},
		{TypeDebit, regexp.MustCompile(`^DEBIT\s+(-?\d+(?:\.\d{1,2})?)$`)},
		{TypeCredit, regexp.MustCompile(`^CREDIT\s+(-?\d+(?:\.\d{1,2})?)$`)},
		{TypePreauth, regexp.MustCompile(`^PREAUTH\s+(-?\d+(?:\.\d{1,2})?)$`)},
	}
)

// Classify tags a cleaned line with its type and extracts the operands for
// that type. Patterns are tried in a fixed order; the first match wins.
func Classify(s string) Line {
	if s == "" {
		return Line{Type: TypeEmpty, Text: s}
	}

	if m := endHeaderPattern.FindStringSubmatch(s); m != nil {
		ln := Line{
			Type:   TypeEndHeader,
			Text:   s,
			Store:  m[1],
			Drawer: m[2],
			TranNo: m[3],
		}
		// A mashed packet that the splitter could not separate may carry the
		// cashier stamp on the same line; surface it so the state machine
		// can still close the transaction.
		ln.Cashier = extractCashier(s)
		return ln
	}

	if name := extractCashier(s); name != "" {
		return Line{Type: TypeCashier, Text: s, Cashier: name}
	}

	for _, tp := range tenderPatterns {
		if m := tp.re.FindStringSubmatch(s); m != nil {
			return Line{Type: tp.typ, Text: s, Amount: parseNumber(m[1])}
		}
	}

	if m := ageVerifyPattern.FindStringSubmatch(s); m != nil {
		return Line{Type: TypeAgeVerification, Text: s, DOBStatus: m[1], DOBTranNo: m[2]}
	}

	if m := itemPattern.FindStringSubmatch(s); m != nil {
		return Line{
			Type:        TypeItem,
			Text:        s,
			Description: strings.TrimSpace(m[1]),
			Qty:         parseNumber(m[2]),
			Amount:      parseNumber(m[3]),
		}
	}

	if strings.HasPrefix(s, "ALARM") {
		return Line{Type: TypeIgnore, Text: s}
	}

	return Line{Type: TypeUnknown, Text: s}
}

// extractCashier pulls the cashier name from a CSH: stamp. The name capture
// is cut at any receipt date following the stamp so
// "CSH: CORPORATE 07/23/25 10:15:15" yields just "CORPORATE".
func extractCashier(s string) string {
	i := strings.Index(s, "CSH:")
	if i < 0 {
		return ""
	}
	tail := s[i:]
	if loc := datePattern.FindStringIndex(tail); loc != nil {
		tail = tail[:loc[0]]
	}
	m := cashierPattern.FindStringSubmatch(tail)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func parseNumber(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
