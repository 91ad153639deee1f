package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	t.Run("removes reset sequences", func(t *testing.T) {
		assert.Equal(t, "TOTAL 5.78", Clean([]byte("\x1bc0TOTAL 5.78")))
		assert.Equal(t, "TOTAL 5.78", Clean([]byte("\x1b!\x00TOTAL 5.78")))
	})

	t.Run("strips CSI sequences", func(t *testing.T) {
		assert.Equal(t, "HELLO", Clean([]byte("\x1b[0mHELLO\x1b[?25h")))
		assert.Equal(t, "AB", Clean([]byte("A\x1b[1;31mB")))
	})

	t.Run("strips remaining two-byte escapes", func(t *testing.T) {
		assert.Equal(t, "X", Clean([]byte("\x1bEX")))
	})

	t.Run("drops non-printable bytes", func(t *testing.T) {
		assert.Equal(t, "AB", Clean([]byte("A\x00\x07\xffB")))
	})

	t.Run("drops surviving c0 prefix", func(t *testing.T) {
		assert.Equal(t, "TOTAL 5.78", Clean([]byte("c0TOTAL 5.78")))
	})

	t.Run("trims whitespace", func(t *testing.T) {
		assert.Equal(t, "PROPEL GRAPE 20oz      1        2.29",
			Clean([]byte("   PROPEL GRAPE 20oz      1        2.29\r")))
	})

	t.Run("empty after cleaning", func(t *testing.T) {
		assert.Equal(t, "", Clean([]byte("\x1bc0\x1b[0m \r")))
	})
}

func TestSplitMashed(t *testing.T) {
	t.Run("plain line passes through", func(t *testing.T) {
		parts := SplitMashed("TOTAL 5.78")
		require.Len(t, parts, 1)
		assert.Equal(t, "TOTAL 5.78", parts[0])
	})

	t.Run("header and cashier split at timestamp before CSH", func(t *testing.T) {
		in := "ST#1 DR#1 TRAN#1028401 07/23/25 10:15:15 001 CSH: CORPORATE"
		parts := SplitMashed(in)
		require.Len(t, parts, 2)
		assert.Equal(t, "ST#1 DR#1 TRAN#1028401", parts[0])
		assert.Equal(t, "07/23/25 10:15:15 001 CSH: CORPORATE", parts[1])
	})

	t.Run("split at second timestamp", func(t *testing.T) {
		in := "FIRST 07/23/25 10:15:15 001 SECOND 07/23/25 10:15:16 002"
		parts := SplitMashed(in)
		require.Len(t, parts, 2)
		assert.Equal(t, "FIRST 07/23/25 10:15:15 001 SECOND", parts[0])
		assert.Equal(t, "07/23/25 10:15:16 002", parts[1])
	})

	t.Run("header with trailing cashier but no timestamp stays whole", func(t *testing.T) {
		in := "ST#1 DR#1 TRAN#1028401 CSH: CORPORATE"
		parts := SplitMashed(in)
		require.Len(t, parts, 1)
	})
}

func TestClassify(t *testing.T) {
	t.Run("item", func(t *testing.T) {
		ln := Classify("Monster Blue Hawaiia   1        3.49")
		assert.Equal(t, TypeItem, ln.Type)
		assert.Equal(t, "Monster Blue Hawaiia", ln.Description)
		require.NotNil(t, ln.Qty)
		require.NotNil(t, ln.Amount)
		assert.Equal(t, 1.0, *ln.Qty)
		assert.Equal(t, 3.49, *ln.Amount)
	})

	t.Run("refund item with negative qty and amount", func(t *testing.T) {
		ln := Classify("REFUND -1 -1.00")
		assert.Equal(t, TypeItem, ln.Type)
		assert.Equal(t, "REFUND", ln.Description)
		assert.Equal(t, -1.0, *ln.Qty)
		assert.Equal(t, -1.00, *ln.Amount)
		assert.True(t, ln.Parsed())
	})

	t.Run("fractional qty", func(t *testing.T) {
		ln := Classify("UNLEADED 12.483 42.19")
		assert.Equal(t, TypeItem, ln.Type)
		assert.Equal(t, 12.483, *ln.Qty)
	})

	t.Run("total", func(t *testing.T) {
		ln := Classify("TOTAL 5.78")
		assert.Equal(t, TypeTotal, ln.Type)
		assert.Equal(t, 5.78, *ln.Amount)
	})

	t.Run("tenders", func(t *testing.T) {
		cases := map[string]LineType{
			"CASH 6.00":     TypeCash,
			"DEBIT 10.50":   TypeDebit,
			"CREDIT 3.25":   TypeCredit,
			"PREAUTH 50.00": TypePreauth,
		}
		for in, want := range cases {
			ln := Classify(in)
			assert.Equal(t, want, ln.Type, in)
			assert.True(t, ln.Type.IsTender())
			require.NotNil(t, ln.Amount, in)
		}
	})

	t.Run("tender requires anchored match", func(t *testing.T) {
		ln := Classify("CASH 6.00 TENDERED")
		assert.NotEqual(t, TypeCash, ln.Type)
	})

	t.Run("end header", func(t *testing.T) {
		ln := Classify("ST#1 DR#2 TRAN#1028401")
		assert.Equal(t, TypeEndHeader, ln.Type)
		assert.Equal(t, "1", ln.Store)
		assert.Equal(t, "2", ln.Drawer)
		assert.Equal(t, "1028401", ln.TranNo)
		assert.Equal(t, "", ln.Cashier)
	})

	t.Run("end header carrying cashier stamp", func(t *testing.T) {
		ln := Classify("ST#1 DR#1 TRAN#1028401 CSH: CORPORATE         07/23/25 10:15:15")
		assert.Equal(t, TypeEndHeader, ln.Type)
		assert.Equal(t, "1028401", ln.TranNo)
		assert.Equal(t, "CORPORATE", ln.Cashier)
	})

	t.Run("cashier", func(t *testing.T) {
		ln := Classify("CSH: CORPORATE 07/23/25 10:15:15")
		assert.Equal(t, TypeCashier, ln.Type)
		assert.Equal(t, "CORPORATE", ln.Cashier)
	})

	t.Run("numeric cashier id", func(t *testing.T) {
		ln := Classify("CSH: 001")
		assert.Equal(t, TypeCashier, ln.Type)
		assert.Equal(t, "001", ln.Cashier)
	})

	t.Run("age verification", func(t *testing.T) {
		ln := Classify("DOB Verification: APPROVED Trans#123")
		assert.Equal(t, TypeAgeVerification, ln.Type)
		assert.Equal(t, "APPROVED", ln.DOBStatus)
		assert.Equal(t, "123", ln.DOBTranNo)

		ln = Classify("DOB Verification: BYPASS")
		assert.Equal(t, TypeAgeVerification, ln.Type)
		assert.Equal(t, "BYPASS", ln.DOBStatus)
		assert.Equal(t, "", ln.DOBTranNo)
	})

	t.Run("alarm ignored", func(t *testing.T) {
		ln := Classify("ALARM door open")
		assert.Equal(t, TypeIgnore, ln.Type)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, TypeEmpty, Classify("").Type)
	})

	t.Run("unknown", func(t *testing.T) {
		ln := Classify("THANK YOU COME AGAIN")
		assert.Equal(t, TypeUnknown, ln.Type)
		assert.False(t, ln.Parsed())
	})
}

// Property from the pipeline contract: after cleaning and mashed-packet
// splitting, no logical line disappears; everything classifies to exactly
// one type.
func TestNoLineDropped(t *testing.T) {
	frames := [][]byte{
		[]byte("\x1bc0Monster Blue Hawaiia   1        3.49"),
		[]byte("PROPEL GRAPE 20oz      1        2.29"),
		[]byte("\x1b[0m                 TOTAL       5.78"),
		[]byte("                        CASH       6.00"),
		[]byte("ST#1 DR#1 TRAN#1028401 07/23/25 10:15:15 001 CSH: CORPORATE"),
		[]byte("ALARM silent"),
		[]byte("   \r"),
		[]byte("SOMETHING ELSE ENTIRELY"),
	}

	logical := 0
	classified := 0
	for _, f := range frames {
		for _, part := range SplitMashed(Clean(f)) {
			ln := Classify(part)
			if ln.Type == TypeEmpty || ln.Type == TypeIgnore {
				continue
			}
			classified++
		}
	}
	// 4 plain lines + 2 from the mashed frame + 1 unknown
	logical = 7
	assert.Equal(t, logical, classified)
}
