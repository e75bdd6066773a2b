package backend

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEReader(t *testing.T) {
	input := ": comment\n" +
		"event: content_block_delta\n" +
		"data: {\"a\":1}\n" +
		"\n" +
		"id: 7\n" +
		"data:line1\r\n" +
		"data: line2\r\n" +
		"\r\n" +
		"data: [DONE]"

	r := newSSEReader(strings.NewReader(input))

	event, data, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "content_block_delta", event)
	assert.Equal(t, `{"a":1}`, string(data))

	event, data, err = r.next()
	require.NoError(t, err)
	assert.Empty(t, event)
	assert.Equal(t, "line1\nline2", string(data))

	_, data, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, "[DONE]", string(data))

	_, _, err = r.next()
	assert.ErrorIs(t, err, io.EOF)
}
