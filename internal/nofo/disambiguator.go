package nofo

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"grantwell/internal/common/logger"
	"grantwell/internal/models"
)

// Invoker is the synchronous model invocation surface used by the
// disambiguator. Payloads are model-native JSON bodies.
type Invoker interface {
	Invoke(ctx context.Context, modelID string, payload []byte) ([]byte, error)
}

// Selection is the model's pick among an opportunity's attachments.
type Selection struct {
	Index  int    `json:"nofoIndex"`
	Reason string `json:"reason"`
}

// Disambiguator asks a text model which of several attachments is the actual
// funding notice. A nil Selection means the model could not decide and the
// opportunity should be skipped.
type Disambiguator struct {
	invoker Invoker
	modelID string
	logger  logger.Logger
}

func NewDisambiguator(invoker Invoker, modelID string, log logger.Logger) *Disambiguator {
	return &Disambiguator{invoker: invoker, modelID: modelID, logger: log}
}

const disambiguatorSystem = "You identify which attachment of a grant listing is the Notice of Funding Opportunity (NOFO) document itself, as opposed to forms, FAQs, amendments, or supporting material. Respond with a single JSON object: {\"nofoIndex\": <zero-based index>, \"reason\": \"<one sentence>\"}."

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// jsonObjectPattern pulls the first brace-delimited object out of a response
// that may be wrapped in prose.
var jsonObjectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// Pick runs a single temperature-0 classification call. It returns nil (no
// error) when the model output is unparseable or the index is out of range.
// There is no retry.
func (d *Disambiguator) Pick(ctx context.Context, title string, attachments []models.Attachment) (*Selection, error) {
	payload, err := json.Marshal(claudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        512,
		Temperature:      0,
		System:           disambiguatorSystem,
		Messages: []claudeMessage{
			{Role: "user", Content: buildDisambiguationPrompt(title, attachments)},
		},
	})
	if err != nil {
		return nil, err
	}

	raw, err := d.invoker.Invoke(ctx, d.modelID, payload)
	if err != nil {
		return nil, fmt.Errorf("disambiguation invoke: %w", err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("disambiguation response decode: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	selection := ParseSelection(text.String(), len(attachments))
	if selection == nil {
		d.logger.Warn("attachment disambiguation inconclusive", map[string]interface{}{
			"title":       title,
			"attachments": len(attachments),
		})
	}
	return selection, nil
}

func buildDisambiguationPrompt(title string, attachments []models.Attachment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Grant listing: %s\n\nAttachments:\n", title)
	for i, a := range attachments {
		fmt.Fprintf(&b, "%d. fileName=%q description=%q path=%q\n", i, a.FileName, a.Description, a.DownloadPath)
	}
	b.WriteString("\nWhich attachment is the NOFO document?")
	return b.String()
}

// ParseSelection extracts {nofoIndex, reason} from raw model text. Returns
// nil when no JSON object is found, the object does not parse, or the index
// is outside [0, count).
func ParseSelection(text string, count int) *Selection {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil
	}

	var parsed struct {
		Index  *int   `json:"nofoIndex"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil || parsed.Index == nil {
		return nil
	}
	if *parsed.Index < 0 || *parsed.Index >= count {
		return nil
	}
	return &Selection{Index: *parsed.Index, Reason: parsed.Reason}
}
