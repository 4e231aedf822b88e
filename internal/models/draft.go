package models

// DraftStatus tracks which editing phase a grant draft is in.
type DraftStatus string

const (
	DraftStatusProjectBasics   DraftStatus = "project_basics"
	DraftStatusQuestionnaire   DraftStatus = "questionnaire"
	DraftStatusEditingSections DraftStatus = "editing_sections"
)

// Draft is an in-progress grant application keyed by (user id, session id).
type Draft struct {
	UserID             string                 `json:"user_id" dynamodbav:"user_id"`
	SessionID          string                 `json:"session_id" dynamodbav:"session_id"`
	Title              string                 `json:"title" dynamodbav:"title"`
	DocumentIdentifier string                 `json:"document_identifier" dynamodbav:"document_identifier"`
	Sections           map[string]interface{} `json:"sections" dynamodbav:"sections"`
	ProjectBasics      map[string]interface{} `json:"project_basics" dynamodbav:"project_basics"`
	Questionnaire      map[string]interface{} `json:"questionnaire" dynamodbav:"questionnaire"`
	LastModified       string                 `json:"last_modified" dynamodbav:"last_modified"`
	Status             DraftStatus            `json:"status" dynamodbav:"status"`
}
