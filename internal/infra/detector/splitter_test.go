package detector

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, lines [][]byte) []map[string]int {
	t.Helper()
	out := make([]map[string]int, 0, len(lines))
	for _, l := range lines {
		var m map[string]int
		require.NoError(t, json.Unmarshal(l, &m))
		out = append(out, m)
	}
	return out
}

func TestLineSplitterRecombinesAcrossChunks(t *testing.T) {
	var s LineSplitter

	got := s.Feed([]byte(`{"a":1}` + "\n" + `{"b":2`))
	got = append(got, s.Feed([]byte("}\n"))...)
	assert.Equal(t, []map[string]int{{"a": 1}, {"b": 2}}, decodeLines(t, got))

	assert.Empty(t, s.Feed([]byte(`{"c":3}`)))
	tail := s.Flush()
	require.NotNil(t, tail)
	assert.Equal(t, []map[string]int{{"c": 3}}, decodeLines(t, [][]byte{tail}))
}

func TestLineSplitterByteAtATime(t *testing.T) {
	var s LineSplitter
	input := "{\"a\":1}\r\n{\"b\":2}\n"

	var got [][]byte
	for i := 0; i < len(input); i++ {
		got = append(got, s.Feed([]byte{input[i]})...)
	}
	assert.Equal(t, []map[string]int{{"a": 1}, {"b": 2}}, decodeLines(t, got))
	assert.Nil(t, s.Flush())
}

func TestLineSplitterBlankTailIgnored(t *testing.T) {
	var s LineSplitter
	s.Feed([]byte("{\"a\":1}\n  \t"))
	assert.Nil(t, s.Flush())
}

func TestLineSplitterDoesNotAliasInput(t *testing.T) {
	var s LineSplitter
	chunk := []byte("{\"a\":1}\n")
	lines := s.Feed(chunk)
	copy(chunk, "XXXXXXXX")
	assert.Equal(t, `{"a":1}`, string(lines[0]))
}
