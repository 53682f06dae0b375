package jsonrpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLineAppendsExactlyOneNewline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, map[string]string{"a": "b"}))
	assert.Equal(t, byte('\n'), buf.Bytes()[buf.Len()-1])
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestNewLineReaderReadsMultipleLines(t *testing.T) {
	input := `{"a":1}` + "\n" + `{"b":2}` + "\n"
	scanner := NewLineReader(bytes.NewBufferString(input))

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, lines)
}

func TestNewRequestMarshalsParams(t *testing.T) {
	req, err := NewRequest(1, "tools/call", map[string]string{"name": "echo.say"})
	require.NoError(t, err)
	assert.Equal(t, Version, req.JSONRPC)
	assert.Equal(t, "tools/call", req.Method)

	var params map[string]string
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "echo.say", params["name"])
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{JSONRPC: Version, ID: int64(7), Result: json.RawMessage(`{"ok":true}`)}
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, resp))

	scanner := bufio.NewScanner(&buf)
	require.True(t, scanner.Scan())

	var decoded Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
	assert.Equal(t, float64(7), decoded.ID) // JSON numbers decode as float64 into interface{}
}
