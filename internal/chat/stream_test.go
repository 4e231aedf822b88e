package chat

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChunkStream replays a fixed sequence of raw chunk payloads.
type fakeChunkStream struct {
	payloads []string
	pos      int
	closed   bool
}

func (f *fakeChunkStream) Recv() ([]byte, error) {
	if f.pos >= len(f.payloads) {
		return nil, io.EOF
	}
	payload := f.payloads[f.pos]
	f.pos++
	return []byte(payload), nil
}

func (f *fakeChunkStream) Close() error {
	f.closed = true
	return nil
}

func collectEvents(t *testing.T, stream ChunkStream) []StreamEvent {
	t.Helper()
	decoder := newStreamDecoder(stream)
	var events []StreamEvent
	for {
		event, err := decoder.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, event)
		if _, stopped := event.(Stop); stopped {
			return events
		}
	}
}

func TestStreamDecoderTextOnly(t *testing.T) {
	stream := &fakeChunkStream{payloads: []string{
		`{"type":"content_block_start","content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":" there"}}`,
		`{"type":"content_block_stop"}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
	}}

	events := collectEvents(t, stream)

	require.Len(t, events, 3)
	assert.Equal(t, TextChunk{Text: "Hello"}, events[0])
	assert.Equal(t, TextChunk{Text: " there"}, events[1])
	assert.Equal(t, Stop{Reason: "end_turn"}, events[2])
}

func TestStreamDecoderToolInvocation(t *testing.T) {
	stream := &fakeChunkStream{payloads: []string{
		`{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_1","name":"query_knowledge_base"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"que"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"ry\":\"match funds\"}"}}`,
		`{"type":"content_block_stop"}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
	}}

	events := collectEvents(t, stream)

	require.Len(t, events, 2)
	invocation, ok := events[0].(ToolInvocation)
	require.True(t, ok)
	assert.Equal(t, "tu_1", invocation.ID)
	assert.Equal(t, "query_knowledge_base", invocation.Name)
	assert.JSONEq(t, `{"query":"match funds"}`, string(invocation.Input))
	assert.Equal(t, Stop{Reason: "tool_use"}, events[1])
}

func TestStreamDecoderEmptyToolInput(t *testing.T) {
	stream := &fakeChunkStream{payloads: []string{
		`{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_1","name":"query_knowledge_base"}}`,
		`{"type":"content_block_stop"}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
	}}

	events := collectEvents(t, stream)

	require.Len(t, events, 2)
	invocation := events[0].(ToolInvocation)
	assert.JSONEq(t, `{}`, string(invocation.Input))
}

func TestStreamDecoderMessageStopFallback(t *testing.T) {
	stream := &fakeChunkStream{payloads: []string{
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"done"}}`,
		`{"type":"message_stop"}`,
	}}

	events := collectEvents(t, stream)

	require.Len(t, events, 2)
	assert.Equal(t, Stop{Reason: "end_turn"}, events[1])
}
