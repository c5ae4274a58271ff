package output

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatter_OutputJSON(t *testing.T) {
	var buf bytes.Buffer
	f := New(FormatJSON)
	f.SetWriter(&buf)

	data := map[string]any{"success": true, "device_id": "aabbccddeeff"}
	require.NoError(t, f.Output(data, func(w io.Writer) error {
		t.Fatal("text renderer must not run in json mode")
		return nil
	}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.True(t, f.IsJSON())
}

func TestFormatter_OutputText(t *testing.T) {
	var buf bytes.Buffer
	f := New(FormatText)
	f.SetWriter(&buf)

	err := f.Output(struct{}{}, func(w io.Writer) error {
		_, err := io.WriteString(w, "registered aabbccddeeff\n")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "registered aabbccddeeff\n", buf.String())
	assert.True(t, f.IsText())

	// Without a renderer text mode falls back to JSON
	buf.Reset()
	require.NoError(t, f.Output(map[string]int{"n": 1}, nil))
	assert.Contains(t, buf.String(), `"n": 1`)
}

func TestFormatter_Unsupported(t *testing.T) {
	f := &Formatter{format: "yaml", writer: io.Discard}
	assert.Error(t, f.Output(1, nil))
}

func TestDetect_NonTerminal(t *testing.T) {
	assert.Equal(t, FormatJSON, Detect(&bytes.Buffer{}))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"TEXT", FormatText, false},
		{"auto", FormatAuto, false},
		{"", FormatJSON, false},
		{"yaml", FormatJSON, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Table(&buf, []string{"DEVICE", "STATUS"}, [][]string{
		{"aabbccddeeff", "active"},
		{"lobby-kiosk", "registered"},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "DEVICE"))
	assert.Equal(t, strings.Index(lines[0], "STATUS"), strings.Index(lines[1], "active"))
}
