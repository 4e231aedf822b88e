package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonaws "grantwell/internal/common/aws"
	"grantwell/internal/common/logger"
	"grantwell/internal/models"
)

// fakeOpener hands out pre-scripted streams in order.
type fakeOpener struct {
	streams  []*fakeChunkStream
	payloads [][]byte
}

func (f *fakeOpener) OpenStream(ctx context.Context, modelID string, payload []byte) (ChunkStream, error) {
	f.payloads = append(f.payloads, payload)
	if len(f.streams) == 0 {
		return nil, errors.New("no more scripted streams")
	}
	stream := f.streams[0]
	f.streams = f.streams[1:]
	return stream, nil
}

type fakeSearcher struct {
	queries []string
	chunks  []commonaws.RetrievedChunk
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query, documentIdentifier, userID string) ([]commonaws.RetrievedChunk, error) {
	f.queries = append(f.queries, query)
	return f.chunks, f.err
}

type fakeSessions struct {
	sessions map[string]*models.Session
	appends  []models.ChatTurn
	puts     []*models.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]*models.Session{}}
}

func (f *fakeSessions) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return f.sessions[userID+"/"+sessionID], nil
}

func (f *fakeSessions) Put(ctx context.Context, session *models.Session) error {
	f.puts = append(f.puts, session)
	f.sessions[session.UserID+"/"+session.SessionID] = session
	return nil
}

func (f *fakeSessions) AppendTurn(ctx context.Context, userID, sessionID string, turn models.ChatTurn) error {
	f.appends = append(f.appends, turn)
	return nil
}

type recordingEmitter struct {
	frames []string
}

func (r *recordingEmitter) EmitText(text string) error {
	r.frames = append(r.frames, text)
	return nil
}

func toolUseStream(text, query string) *fakeChunkStream {
	return &fakeChunkStream{payloads: []string{
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"` + text + `"}}`,
		`{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_1","name":"query_knowledge_base"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"query\":\"` + query + `\"}"}}`,
		`{"type":"content_block_stop"}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
	}}
}

func endTurnStream(text string) *fakeChunkStream {
	return &fakeChunkStream{payloads: []string{
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"` + text + `"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
	}}
}

func newTestHandler(opener *fakeOpener, searcher *fakeSearcher, sessions *fakeSessions) *Handler {
	titler := NewTitler(failingInvoker{}, "title-model", logger.NewNoOpLogger())
	return NewHandler(&Config{ChatModelID: "chat-model", MaxToolRounds: 5},
		opener, searcher, sessions, titler, logger.NewNoOpLogger())
}

type failingInvoker struct{}

func (failingInvoker) Invoke(ctx context.Context, modelID string, payload []byte) ([]byte, error) {
	return nil, errors.New("title model unavailable")
}

func TestHandleTurnToolLoopTerminates(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeChunkStream{
		toolUseStream("Checking the notice. ", "match requirements"),
		endTurnStream("The match requirement is 20 percent."),
	}}
	searcher := &fakeSearcher{chunks: []commonaws.RetrievedChunk{
		{URI: "s3://kb/nofo.pdf", Text: "20 percent match", Score: 0.9},
	}}
	sessions := newFakeSessions()
	emitter := &recordingEmitter{}

	h := newTestHandler(opener, searcher, sessions)
	err := h.HandleTurn(context.Background(), &TurnRequest{
		UserID: "user-1", SessionID: "sess-1",
		DocumentIdentifier: "Rural Health Outreach",
		Message:            "What is the match requirement?",
	}, emitter)

	require.NoError(t, err)
	assert.Len(t, opener.payloads, 2, "exactly one extra round-trip per tool invocation")
	assert.Equal(t, []string{"match requirements"}, searcher.queries)

	// Sentinel then citations close the stream.
	require.GreaterOrEqual(t, len(emitter.frames), 3)
	assert.Equal(t, EndOfStreamSentinel, emitter.frames[len(emitter.frames)-2])
	var citations []string
	require.NoError(t, json.Unmarshal([]byte(emitter.frames[len(emitter.frames)-1]), &citations))
	assert.Equal(t, []string{"s3://kb/nofo.pdf"}, citations)
}

func TestHandleTurnToolRoundTripPayload(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeChunkStream{
		toolUseStream("", "budget caps"),
		endTurnStream("Done."),
	}}
	searcher := &fakeSearcher{chunks: []commonaws.RetrievedChunk{
		{URI: "s3://kb/nofo.pdf", Text: "cap is $500k", Score: 0.9},
	}}

	h := newTestHandler(opener, searcher, newFakeSessions())
	err := h.HandleTurn(context.Background(), &TurnRequest{
		UserID: "u", SessionID: "s", Message: "caps?",
	}, nil)

	require.NoError(t, err)
	require.Len(t, opener.payloads, 2)

	var second streamRequest
	require.NoError(t, json.Unmarshal(opener.payloads[1], &second))
	require.GreaterOrEqual(t, len(second.Messages), 3)

	assistant := second.Messages[len(second.Messages)-2]
	assert.Equal(t, "assistant", assistant.Role)
	assert.Equal(t, "tool_use", assistant.Content[len(assistant.Content)-1].Type)

	toolResult := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "user", toolResult.Role)
	require.Len(t, toolResult.Content, 1)
	assert.Equal(t, "tool_result", toolResult.Content[0].Type)
	assert.Equal(t, "tu_1", toolResult.Content[0].ToolUseID)
	assert.Contains(t, toolResult.Content[0].Content, "cap is $500k")
}

func TestHandleTurnToolRoundCap(t *testing.T) {
	// The model keeps asking for the tool; the cap must stop the loop.
	opener := &fakeOpener{streams: []*fakeChunkStream{
		toolUseStream("a", "q1"),
		toolUseStream("b", "q2"),
		toolUseStream("c", "q3"),
	}}
	searcher := &fakeSearcher{}
	sessions := newFakeSessions()

	h := NewHandler(&Config{ChatModelID: "chat-model", MaxToolRounds: 2},
		opener, searcher, sessions,
		NewTitler(failingInvoker{}, "title-model", logger.NewNoOpLogger()),
		logger.NewNoOpLogger())

	err := h.HandleTurn(context.Background(), &TurnRequest{
		UserID: "u", SessionID: "s", Message: "m",
	}, nil)

	require.NoError(t, err)
	assert.Len(t, opener.payloads, 3, "initial call plus two tool rounds")
}

func TestHandleTurnRetrievalFailureDegrades(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeChunkStream{
		toolUseStream("", "anything"),
		endTurnStream("I could not find that."),
	}}
	searcher := &fakeSearcher{err: errors.New("kb down")}
	emitter := &recordingEmitter{}

	h := newTestHandler(opener, searcher, newFakeSessions())
	err := h.HandleTurn(context.Background(), &TurnRequest{
		UserID: "u", SessionID: "s", Message: "m",
	}, emitter)

	require.NoError(t, err, "retrieval failure never surfaces to the client")

	var second streamRequest
	require.NoError(t, json.Unmarshal(opener.payloads[1], &second))
	toolResult := second.Messages[len(second.Messages)-1]
	assert.Equal(t, noKnowledgeMessage, toolResult.Content[0].Content)

	var citations []string
	require.NoError(t, json.Unmarshal([]byte(emitter.frames[len(emitter.frames)-1]), &citations))
	assert.Empty(t, citations)
}

func TestHandleTurnFirstTurnCreatesTitledSession(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeChunkStream{endTurnStream("Hello!")}}
	sessions := newFakeSessions()

	h := newTestHandler(opener, &fakeSearcher{}, sessions)
	err := h.HandleTurn(context.Background(), &TurnRequest{
		UserID: "user-1", SessionID: "sess-1",
		DocumentIdentifier: "Rural Health Outreach",
		Message:            "Hi, can you help me apply?",
	}, nil)

	require.NoError(t, err)
	require.Len(t, sessions.puts, 1)
	created := sessions.puts[0]
	assert.Equal(t, "Hi, can you help me apply?", created.Title,
		"title model failure falls back to the first message")
	assert.Equal(t, "Rural Health Outreach", created.DocumentIdentifier)
	require.Len(t, created.ChatHistory, 1)
	assert.Equal(t, "Hello!", created.ChatHistory[0].Reply)
}

func TestHandleTurnSubsequentTurnAppends(t *testing.T) {
	opener := &fakeOpener{streams: []*fakeChunkStream{endTurnStream("Sure.")}}
	sessions := newFakeSessions()
	sessions.sessions["user-1/sess-1"] = &models.Session{
		UserID: "user-1", SessionID: "sess-1", Title: "Existing",
		ChatHistory: []models.ChatTurn{
			{UserMessage: "old-1", Reply: "r1"},
			{UserMessage: "old-2", Reply: "r2"},
			{UserMessage: "old-3", Reply: "r3"},
		},
	}

	h := newTestHandler(opener, &fakeSearcher{}, sessions)
	err := h.HandleTurn(context.Background(), &TurnRequest{
		UserID: "user-1", SessionID: "sess-1", Message: "next question",
	}, nil)

	require.NoError(t, err)
	assert.Empty(t, sessions.puts)
	require.Len(t, sessions.appends, 1)
	assert.Equal(t, "Sure.", sessions.appends[0].Reply)

	// History window: only the last two prior turns go to the model.
	var first streamRequest
	require.NoError(t, json.Unmarshal(opener.payloads[0], &first))
	require.Len(t, first.Messages, 5)
	assert.Equal(t, "old-2", first.Messages[0].Content[0].Text)
	assert.Equal(t, "next question", first.Messages[4].Content[0].Text)
}
