package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"", FormatTable, false},
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]int{"depth": 3}))
	assert.JSONEq(t, `{"depth": 3}`, buf.String())
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, map[string]string{"status": "ok"}))
	assert.Contains(t, buf.String(), "status: ok")
}

func TestPrintTable(t *testing.T) {
	data := NewTableData("ID", "TOPIC")
	data.AddRow("1", "transactions")
	data.AddRow("2", "transaction_lines")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, data))
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "transactions")
	assert.Contains(t, out, "transaction_lines")
}
