// Package chat implements the retrieval-augmented chat turn: a streamed
// model invocation whose tool calls are answered with vector search results,
// forwarded token-by-token to the client, and persisted as a session turn.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	commonaws "grantwell/internal/common/aws"
	stderrors "grantwell/internal/common/errors"
	"grantwell/internal/common/logger"
	"grantwell/internal/common/metrics"
	"grantwell/internal/models"
)

// EndOfStreamSentinel marks the end of streamed text; the citation array
// follows it on the wire.
const EndOfStreamSentinel = "!<|EOF_STREAM|>"

const (
	noKnowledgeMessage = "No relevant information was found in the knowledge base for this query."
	historyWindow      = 2
	toolName           = "query_knowledge_base"
)

const systemPrompt = "You are GrantWell, an assistant that helps municipalities understand and apply for federal grant funding. Answer using the " + toolName + " tool for anything that depends on the funding notice or the user's uploaded documents. Cite only retrieved material; if nothing relevant is retrieved, say so plainly."

// TranscriptStore is the session persistence surface the handler needs.
type TranscriptStore interface {
	Get(ctx context.Context, userID, sessionID string) (*models.Session, error)
	Put(ctx context.Context, session *models.Session) error
	AppendTurn(ctx context.Context, userID, sessionID string, turn models.ChatTurn) error
}

// Searcher answers one tool query against the partitioned corpora.
type Searcher interface {
	Search(ctx context.Context, query, documentIdentifier, userID string) ([]commonaws.RetrievedChunk, error)
}

// Emitter delivers streamed text to the connected client.
type Emitter interface {
	EmitText(text string) error
}

type Config struct {
	ChatModelID   string
	MaxToolRounds int
	MaxTokens     int
}

// Handler runs chat turns. One Handler serves all connections; per-turn
// state lives on the stack.
type Handler struct {
	config    *Config
	opener    StreamOpener
	retriever Searcher
	sessions  TranscriptStore
	titler    *Titler
	logger    logger.Logger
}

func NewHandler(config *Config, opener StreamOpener, retriever Searcher, sessions TranscriptStore, titler *Titler, log logger.Logger) *Handler {
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = 5
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2048
	}
	return &Handler{
		config:    config,
		opener:    opener,
		retriever: retriever,
		sessions:  sessions,
		titler:    titler,
		logger:    log,
	}
}

// TurnRequest is one inbound chat message.
type TurnRequest struct {
	UserID             string `json:"userId"`
	SessionID          string `json:"sessionId"`
	DocumentIdentifier string `json:"documentIdentifier"`
	Message            string `json:"userMessage"`
}

type contentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type toolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type streamRequest struct {
	AnthropicVersion string     `json:"anthropic_version"`
	MaxTokens        int        `json:"max_tokens"`
	System           string     `json:"system,omitempty"`
	Messages         []message  `json:"messages"`
	Tools            []toolSpec `json:"tools,omitempty"`
}

func retrievalToolSpec() []toolSpec {
	return []toolSpec{{
		Name:        toolName,
		Description: "Search the funding notice and the user's uploaded documents for passages relevant to a question.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []string{"query"},
		},
	}}
}

func textBlocks(text string) []contentBlock {
	return []contentBlock{{Type: "text", Text: text}}
}

// buildMessages assembles the model context: a rolling window of the last
// two prior turns plus the current user message.
func buildMessages(session *models.Session, userMessage string) []message {
	var msgs []message
	if session != nil {
		turns := session.ChatHistory
		if len(turns) > historyWindow {
			turns = turns[len(turns)-historyWindow:]
		}
		for _, turn := range turns {
			msgs = append(msgs,
				message{Role: "user", Content: textBlocks(turn.UserMessage)},
				message{Role: "assistant", Content: textBlocks(turn.Reply)},
			)
		}
	}
	return append(msgs, message{Role: "user", Content: textBlocks(userMessage)})
}

func formatToolResult(chunks []commonaws.RetrievedChunk) string {
	var b strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[source: %s]\n%s", chunk.URI, chunk.Text)
	}
	return b.String()
}

// HandleTurn runs the generation loop for one message and persists the
// resulting turn. Text is forwarded to emit as it arrives; after the loop
// the sentinel token and the citation JSON array are emitted in that order.
func (h *Handler) HandleTurn(ctx context.Context, req *TurnRequest, emit Emitter) error {
	log := h.logger.With(map[string]interface{}{
		"userId":    req.UserID,
		"sessionId": req.SessionID,
	})

	session, err := h.sessions.Get(ctx, req.UserID, req.SessionID)
	if err != nil {
		// Degrade to an empty history rather than failing the turn.
		log.WithError(err).Warn("session load failed, continuing without history", nil)
		session = nil
	}

	msgs := buildMessages(session, req.Message)
	var reply strings.Builder
	var citations []string
	seenCitations := map[string]bool{}
	rounds := 0

	for {
		payload, err := json.Marshal(streamRequest{
			AnthropicVersion: "bedrock-2023-05-31",
			MaxTokens:        h.config.MaxTokens,
			System:           systemPrompt,
			Messages:         msgs,
			Tools:            retrievalToolSpec(),
		})
		if err != nil {
			metrics.ChatTurns.WithLabelValues("error").Inc()
			return err
		}

		stream, err := h.opener.OpenStream(ctx, h.config.ChatModelID, payload)
		if err != nil {
			metrics.ChatTurns.WithLabelValues("error").Inc()
			return stderrors.NewModelInvokeError(h.config.ChatModelID, err)
		}

		var roundText strings.Builder
		var pending *ToolInvocation
		stopReason := "end_turn"

		decoder := newStreamDecoder(stream)
	consume:
		for {
			event, err := decoder.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Close()
				metrics.ChatTurns.WithLabelValues("error").Inc()
				return stderrors.NewModelInvokeError(h.config.ChatModelID, err)
			}

			switch e := event.(type) {
			case TextChunk:
				roundText.WriteString(e.Text)
				reply.WriteString(e.Text)
				if emit != nil {
					if err := emit.EmitText(e.Text); err != nil {
						log.WithError(err).Warn("client emit failed", nil)
					}
				}
			case ToolInvocation:
				invocation := e
				pending = &invocation
			case Stop:
				stopReason = e.Reason
				break consume
			}
		}
		stream.Close()

		// Each tool_use stop buys the model exactly one more round-trip.
		if stopReason != stopReasonToolUse || pending == nil {
			break
		}
		rounds++
		if rounds > h.config.MaxToolRounds {
			log.Warn("tool round cap reached, stopping loop", map[string]interface{}{
				"rounds": rounds,
			})
			break
		}

		var toolQuery struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(pending.Input, &toolQuery); err != nil {
			log.WithError(err).Warn("tool input parse failed", nil)
		}

		toolResult := noKnowledgeMessage
		chunks, err := h.retriever.Search(ctx, toolQuery.Query, req.DocumentIdentifier, req.UserID)
		if err != nil {
			log.WithError(err).Warn("retrieval failed, returning stock tool result", nil)
		} else if len(chunks) > 0 {
			toolResult = formatToolResult(chunks)
			for _, chunk := range chunks {
				if chunk.URI != "" && !seenCitations[chunk.URI] {
					seenCitations[chunk.URI] = true
					citations = append(citations, chunk.URI)
				}
			}
		}

		assistantBlocks := []contentBlock{}
		if roundText.Len() > 0 {
			assistantBlocks = append(assistantBlocks, contentBlock{Type: "text", Text: roundText.String()})
		}
		assistantBlocks = append(assistantBlocks, contentBlock{
			Type:  "tool_use",
			ID:    pending.ID,
			Name:  pending.Name,
			Input: pending.Input,
		})
		msgs = append(msgs,
			message{Role: "assistant", Content: assistantBlocks},
			message{Role: "user", Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: pending.ID,
				Content:   toolResult,
			}}},
		)
	}

	metrics.ChatToolRounds.Observe(float64(rounds))

	if citations == nil {
		citations = []string{}
	}
	if emit != nil {
		if err := emit.EmitText(EndOfStreamSentinel); err != nil {
			log.WithError(err).Warn("sentinel emit failed", nil)
		}
		citationJSON, _ := json.Marshal(citations)
		if err := emit.EmitText(string(citationJSON)); err != nil {
			log.WithError(err).Warn("citation emit failed", nil)
		}
	}

	h.persistTurn(ctx, req, session, models.ChatTurn{
		UserMessage: req.Message,
		Reply:       reply.String(),
		Sources:     citations,
	}, log)

	metrics.ChatTurns.WithLabelValues("ok").Inc()
	return nil
}

// persistTurn writes the turn to the session store. The first turn of a new
// session gets an auto-generated title from the secondary model. Persistence
// failures are logged, not surfaced; the client already has the stream.
func (h *Handler) persistTurn(ctx context.Context, req *TurnRequest, session *models.Session, turn models.ChatTurn, log logger.Logger) {
	now := time.Now().UTC().Format(time.RFC3339)

	if session == nil {
		title := h.titler.Title(ctx, req.Message)
		err := h.sessions.Put(ctx, &models.Session{
			UserID:             req.UserID,
			SessionID:          req.SessionID,
			Title:              title,
			TimeStamp:          now,
			DocumentIdentifier: req.DocumentIdentifier,
			ChatHistory:        []models.ChatTurn{turn},
		})
		if err != nil {
			log.WithError(err).Error("session create failed", nil)
		}
		return
	}

	if err := h.sessions.AppendTurn(ctx, req.UserID, req.SessionID, turn); err != nil {
		log.WithError(err).Error("session update failed", nil)
	}
}
