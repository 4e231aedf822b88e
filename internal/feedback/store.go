// Package feedback stores user ratings of chatbot replies and serves the
// admin review surface over them.
package feedback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	commonaws "grantwell/internal/common/aws"
	"grantwell/internal/models"
)

// anyIndex is a sparse index keyed by the constant Any attribute, which
// makes unscoped time-range queries possible on a Topic/CreatedAt table.
const anyIndex = "AnyIndex"

const anyValue = "YES"

// DefaultTopic labels feedback submitted without an explicit topic.
const DefaultTopic = "N/A (Good Response)"

type Store struct {
	db    commonaws.DynamoDBAPI
	table string
}

func NewStore(db commonaws.DynamoDBAPI, table string) *Store {
	return &Store{db: db, table: table}
}

// Create assigns an id and timestamp and writes the record.
func (s *Store) Create(ctx context.Context, submission *models.FeedbackSubmission) (*models.Feedback, error) {
	topic := submission.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	record := &models.Feedback{
		FeedbackID:       uuid.NewString(),
		SessionID:        submission.SessionID,
		UserPrompt:       submission.Prompt,
		ChatbotMessage:   submission.Completion,
		Feedback:         submission.Feedback,
		FeedbackComments: submission.Comment,
		Topic:            topic,
		Problem:          submission.Problem,
		Sources:          submission.Sources,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		Any:              anyValue,
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("marshal feedback: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("put feedback: %w", err)
	}
	return record, nil
}

// Page is one query result page; NextToken resumes the listing.
type Page struct {
	Items     []models.Feedback `json:"items"`
	NextToken string            `json:"nextToken,omitempty"`
}

// Query lists feedback in [start, end], scoped to a topic when given,
// otherwise across all topics via the sparse index.
func (s *Store) Query(ctx context.Context, topic, start, end string, limit int32, token string) (*Page, error) {
	if limit <= 0 {
		limit = 50
	}

	input := &dynamodb.QueryInput{
		TableName:        aws.String(s.table),
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	}
	// "Any" collides with a reserved word, so both partition keys go
	// through an expression attribute name.
	input.KeyConditionExpression = aws.String("#pk = :pk AND CreatedAt BETWEEN :start AND :end")
	if topic != "" {
		input.ExpressionAttributeNames = map[string]string{"#pk": "Topic"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: topic},
			":start": &types.AttributeValueMemberS{Value: start},
			":end":   &types.AttributeValueMemberS{Value: end},
		}
	} else {
		input.IndexName = aws.String(anyIndex)
		input.ExpressionAttributeNames = map[string]string{"#pk": "Any"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: anyValue},
			":start": &types.AttributeValueMemberS{Value: start},
			":end":   &types.AttributeValueMemberS{Value: end},
		}
	}

	if token != "" {
		startKey, err := decodeToken(token)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = startKey
	}

	out, err := s.db.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}

	page := &Page{Items: make([]models.Feedback, 0, len(out.Items))}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &page.Items); err != nil {
		return nil, fmt.Errorf("unmarshal feedback page: %w", err)
	}
	if out.LastEvaluatedKey != nil {
		next, err := encodeToken(out.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
		page.NextToken = next
	}
	return page, nil
}

// QueryAll drains every page in the range, for the CSV export.
func (s *Store) QueryAll(ctx context.Context, topic, start, end string) ([]models.Feedback, error) {
	var all []models.Feedback
	token := ""
	for {
		page, err := s.Query(ctx, topic, start, end, 200, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextToken == "" {
			return all, nil
		}
		token = page.NextToken
	}
}

func (s *Store) Delete(ctx context.Context, topic, createdAt string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"Topic":     &types.AttributeValueMemberS{Value: topic},
			"CreatedAt": &types.AttributeValueMemberS{Value: createdAt},
		},
	})
	if err != nil {
		return fmt.Errorf("delete feedback: %w", err)
	}
	return nil
}

// Pagination tokens are the base64 of the string-typed key attributes; the
// table and index keys are all strings.
func encodeToken(key map[string]types.AttributeValue) (string, error) {
	flat := map[string]string{}
	for name, av := range key {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("unexpected key attribute type for %s", name)
		}
		flat[name] = s.Value
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

func decodeToken(token string) (map[string]types.AttributeValue, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed pagination token")
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("malformed pagination token")
	}
	key := map[string]types.AttributeValue{}
	for name, value := range flat {
		key[name] = &types.AttributeValueMemberS{Value: value}
	}
	return key, nil
}
