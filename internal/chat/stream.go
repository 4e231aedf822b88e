package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// StreamEvent is the decoded model stream protocol: plain text to forward,
// a completed tool invocation, or a stop signal. Tagged variants keep the
// generation loop's switch exhaustive.
type StreamEvent interface {
	isStreamEvent()
}

// TextChunk is a fragment of model output text.
type TextChunk struct {
	Text string
}

// ToolInvocation is a fully accumulated tool call from the model.
type ToolInvocation struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Stop carries the model's stop reason; "tool_use" means the caller owes the
// model one tool-result round-trip.
type Stop struct {
	Reason string
}

func (TextChunk) isStreamEvent()      {}
func (ToolInvocation) isStreamEvent() {}
func (Stop) isStreamEvent()           {}

const stopReasonToolUse = "tool_use"

// ChunkStream yields raw chunk payloads from a streamed model invocation.
type ChunkStream interface {
	Recv() ([]byte, error)
	Close() error
}

// StreamOpener starts a streamed model invocation.
type StreamOpener interface {
	OpenStream(ctx context.Context, modelID string, payload []byte) (ChunkStream, error)
}

// streamChunk is the wire shape of one Claude stream event.
type streamChunk struct {
	Type string `json:"type"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta,omitempty"`
}

// streamDecoder turns raw chunk payloads into StreamEvents, accumulating
// tool input deltas until the content block closes.
type streamDecoder struct {
	stream ChunkStream

	inTool    bool
	toolID    string
	toolName  string
	toolInput bytes.Buffer
}

func newStreamDecoder(stream ChunkStream) *streamDecoder {
	return &streamDecoder{stream: stream}
}

// Next returns the next event. io.EOF means the stream ended without an
// explicit stop reason.
func (d *streamDecoder) Next() (StreamEvent, error) {
	for {
		payload, err := d.stream.Recv()
		if err != nil {
			return nil, err
		}

		var chunk streamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}

		switch chunk.Type {
		case "content_block_start":
			if chunk.ContentBlock != nil && chunk.ContentBlock.Type == "tool_use" {
				d.inTool = true
				d.toolID = chunk.ContentBlock.ID
				d.toolName = chunk.ContentBlock.Name
				d.toolInput.Reset()
			}

		case "content_block_delta":
			if chunk.Delta == nil {
				continue
			}
			switch chunk.Delta.Type {
			case "text_delta":
				if chunk.Delta.Text != "" {
					return TextChunk{Text: chunk.Delta.Text}, nil
				}
			case "input_json_delta":
				d.toolInput.WriteString(chunk.Delta.PartialJSON)
			}

		case "content_block_stop":
			if d.inTool {
				d.inTool = false
				input := d.toolInput.Bytes()
				if len(input) == 0 {
					input = []byte("{}")
				}
				invocation := ToolInvocation{
					ID:    d.toolID,
					Name:  d.toolName,
					Input: append(json.RawMessage(nil), input...),
				}
				return invocation, nil
			}

		case "message_delta":
			if chunk.Delta != nil && chunk.Delta.StopReason != "" {
				return Stop{Reason: chunk.Delta.StopReason}, nil
			}

		case "message_stop":
			return Stop{Reason: "end_turn"}, nil
		}
	}
}
