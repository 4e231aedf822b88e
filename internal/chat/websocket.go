package chat

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"grantwell/internal/common/logger"
	"grantwell/internal/common/validation"
)

var turnRequestSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"sessionId": {"type": "string", "minLength": 1},
		"documentIdentifier": {"type": "string"},
		"userMessage": {"type": "string", "minLength": 1}
	},
	"required": ["userId", "sessionId", "userMessage"]
}`)

// socketEnvelope is the client frame: a named action plus its payload.
type socketEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type socketError struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// SocketHandler upgrades HTTP requests to the duplex chat channel and routes
// the named actions: connect and disconnect are implicit in the socket
// lifecycle, getChatbotResponse runs a turn, anything else gets a
// 404-equivalent frame.
type SocketHandler struct {
	upgrader websocket.Upgrader
	chat     *Handler
	logger   logger.Logger
}

func NewSocketHandler(chat *Handler, log logger.Logger) *SocketHandler {
	return &SocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Auth happens upstream; the socket accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		chat:   chat,
		logger: log,
	}
}

// socketEmitter forwards streamed text to one connection.
type socketEmitter struct {
	conn *websocket.Conn
}

func (e *socketEmitter) EmitText(text string) error {
	return e.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (s *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed", nil)
		return
	}
	defer conn.Close()

	s.logger.Debug("websocket connected", map[string]interface{}{
		"remote": conn.RemoteAddr().String(),
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			// Normal closure and client teardown both land here.
			return
		}

		var envelope socketEnvelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			s.writeError(conn, http.StatusBadRequest, "malformed frame")
			continue
		}

		switch envelope.Action {
		case "getChatbotResponse":
			s.handleTurn(r, conn, envelope.Data)
			// One turn per connection; the close is deliberate so the client
			// reconnects with fresh authorizer state.
			return
		default:
			s.writeError(conn, http.StatusNotFound, "route not found")
		}
	}
}

func (s *SocketHandler) handleTurn(r *http.Request, conn *websocket.Conn, data json.RawMessage) {
	if result := turnRequestSchema.ValidateBytes(data); !result.Valid {
		s.writeError(conn, http.StatusBadRequest, result.ErrorString())
		return
	}

	var req TurnRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeError(conn, http.StatusBadRequest, "malformed payload")
		return
	}

	if err := s.chat.HandleTurn(r.Context(), &req, &socketEmitter{conn: conn}); err != nil {
		s.logger.WithError(err).Error("chat turn failed", map[string]interface{}{
			"sessionId": req.SessionID,
		})
		s.writeError(conn, http.StatusInternalServerError, "an error occurred generating the response")
	}
}

func (s *SocketHandler) writeError(conn *websocket.Conn, status int, body string) {
	frame, _ := json.Marshal(socketError{StatusCode: status, Body: body})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.logger.WithError(err).Debug("error frame write failed", nil)
	}
}
