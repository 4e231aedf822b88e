package models

// ChatTurn is one user/assistant exchange within a session transcript.
type ChatTurn struct {
	UserMessage string   `json:"user" dynamodbav:"user"`
	Reply       string   `json:"chatbot" dynamodbav:"chatbot"`
	Sources     []string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
}

// Session is a chat transcript record keyed by (user id, session id).
type Session struct {
	UserID             string     `json:"user_id" dynamodbav:"user_id"`
	SessionID          string     `json:"session_id" dynamodbav:"session_id"`
	Title              string     `json:"title" dynamodbav:"title"`
	TimeStamp          string     `json:"time_stamp" dynamodbav:"time_stamp"`
	DocumentIdentifier string     `json:"document_identifier" dynamodbav:"document_identifier"`
	ChatHistory        []ChatTurn `json:"chat_history" dynamodbav:"chat_history"`
}

// SessionSummary is the listing projection (no transcript body).
type SessionSummary struct {
	SessionID          string `json:"session_id" dynamodbav:"session_id"`
	Title              string `json:"title" dynamodbav:"title"`
	TimeStamp          string `json:"time_stamp" dynamodbav:"time_stamp"`
	DocumentIdentifier string `json:"document_identifier" dynamodbav:"document_identifier"`
}
