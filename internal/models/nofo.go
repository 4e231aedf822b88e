package models

// NOFOStatus is the lifecycle state of a catalog entry.
type NOFOStatus string

const (
	NOFOStatusActive   NOFOStatus = "active"
	NOFOStatusArchived NOFOStatus = "archived"
)

// NOFOMetadata is one metadata row, keyed by opportunity title.
type NOFOMetadata struct {
	Name           string     `json:"name" dynamodbav:"name"`
	Status         NOFOStatus `json:"status" dynamodbav:"status"`
	IsPinned       bool       `json:"isPinned" dynamodbav:"isPinned"`
	Agency         string     `json:"agency,omitempty" dynamodbav:"agency,omitempty"`
	Category       string     `json:"category,omitempty" dynamodbav:"category,omitempty"`
	GrantType      string     `json:"grantType,omitempty" dynamodbav:"grantType,omitempty"`
	ExpirationDate string     `json:"expirationDate,omitempty" dynamodbav:"expirationDate,omitempty"`
	CreatedAt      string     `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt      string     `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Attachment is one downloadable file on an opportunity listing.
type Attachment struct {
	DownloadPath string `json:"downloadPath"`
	Description  string `json:"description"`
	FileName     string `json:"fileName"`
}

// Opportunity is a transient record from the external grants source.
type Opportunity struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Agency         string       `json:"agency"`
	Categories     []string     `json:"categories"`
	PostedDate     string       `json:"postedDate"`
	CloseDate      string       `json:"closeDate"`
	Attachments    []Attachment `json:"attachments"`
	AdditionalInfo string       `json:"additionalInfo"`
	GrantType      string       `json:"grantType"`
}
