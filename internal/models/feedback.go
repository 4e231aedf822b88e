package models

// Feedback is one stored user rating of a chatbot reply.
// The constant "Any" attribute backs a sparse index for unscoped
// time-range queries.
type Feedback struct {
	FeedbackID       string   `json:"FeedbackID" dynamodbav:"FeedbackID"`
	SessionID        string   `json:"SessionID" dynamodbav:"SessionID"`
	UserPrompt       string   `json:"UserPrompt" dynamodbav:"UserPrompt"`
	FeedbackComments string   `json:"FeedbackComments" dynamodbav:"FeedbackComments"`
	Topic            string   `json:"Topic" dynamodbav:"Topic"`
	Problem          string   `json:"Problem" dynamodbav:"Problem"`
	Feedback         int      `json:"Feedback" dynamodbav:"Feedback"`
	ChatbotMessage   string   `json:"ChatbotMessage" dynamodbav:"ChatbotMessage"`
	Sources          []string `json:"Sources" dynamodbav:"Sources"`
	CreatedAt        string   `json:"CreatedAt" dynamodbav:"CreatedAt"`
	Any              string   `json:"Any" dynamodbav:"Any"`
}

// FeedbackSubmission is the client payload for posting feedback.
type FeedbackSubmission struct {
	SessionID  string   `json:"sessionId"`
	Prompt     string   `json:"prompt"`
	Completion string   `json:"completion"`
	Feedback   int      `json:"feedback"`
	Comment    string   `json:"comment,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Problem    string   `json:"problem,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}
