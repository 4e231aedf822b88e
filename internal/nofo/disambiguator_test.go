package nofo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwell/internal/common/logger"
	"grantwell/internal/models"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		count int
		want  *Selection
	}{
		{
			"bare json",
			`{"nofoIndex": 1, "reason": "filename says NOFO"}`,
			3,
			&Selection{Index: 1, Reason: "filename says NOFO"},
		},
		{
			"json wrapped in prose",
			`Looking at the attachments, the answer is {"nofoIndex": 0, "reason": "only full notice"} as requested.`,
			2,
			&Selection{Index: 0, Reason: "only full notice"},
		},
		{"out of range", `{"nofoIndex": 5, "reason": "x"}`, 3, nil},
		{"negative index", `{"nofoIndex": -1, "reason": "x"}`, 3, nil},
		{"missing index", `{"reason": "x"}`, 3, nil},
		{"no json at all", `I cannot tell which one it is.`, 3, nil},
		{"malformed json", `{"nofoIndex": }`, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSelection(tt.text, tt.count))
		})
	}
}

type fakeInvoker struct {
	response string
	err      error
	payloads [][]byte
}

func (f *fakeInvoker) Invoke(ctx context.Context, modelID string, payload []byte) ([]byte, error) {
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	body, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": f.response}},
	})
	return body, nil
}

func TestDisambiguatorPick(t *testing.T) {
	invoker := &fakeInvoker{response: `{"nofoIndex": 1, "reason": "full notice"}`}
	d := NewDisambiguator(invoker, "test-model", logger.NewNoOpLogger())

	attachments := []models.Attachment{
		{FileName: "faq.pdf", Description: "FAQ"},
		{FileName: "nofo.pdf", Description: "Notice of Funding Opportunity"},
	}
	selection, err := d.Pick(context.Background(), "Rural Health Outreach", attachments)

	require.NoError(t, err)
	require.NotNil(t, selection)
	assert.Equal(t, 1, selection.Index)

	require.Len(t, invoker.payloads, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(invoker.payloads[0], &payload))
	assert.Equal(t, float64(0), payload["temperature"], "classification runs at temperature 0")
	assert.Contains(t, payload["messages"].([]interface{})[0].(map[string]interface{})["content"], "nofo.pdf")
}

func TestDisambiguatorPickInconclusive(t *testing.T) {
	invoker := &fakeInvoker{response: "I am not sure which attachment it is."}
	d := NewDisambiguator(invoker, "test-model", logger.NewNoOpLogger())

	selection, err := d.Pick(context.Background(), "Title", []models.Attachment{{}, {}})

	require.NoError(t, err)
	assert.Nil(t, selection, "unparseable output means skip, not error")
	assert.Len(t, invoker.payloads, 1, "no retry")
}
