// Package session persists chat transcripts keyed by (user id, session id).
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	commonaws "grantwell/internal/common/aws"
	"grantwell/internal/models"
)

// timeIndex orders a user's sessions by last activity.
const timeIndex = "TimeIndex"

const (
	defaultListLimit  = 15
	filteredListLimit = 100
)

type Store struct {
	db    commonaws.DynamoDBAPI
	table string
}

func NewStore(db commonaws.DynamoDBAPI, table string) *Store {
	return &Store{db: db, table: table}
}

func sessionKey(userID, sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id":    &types.AttributeValueMemberS{Value: userID},
		"session_id": &types.AttributeValueMemberS{Value: sessionID},
	}
}

// Get returns the full transcript record, or nil when absent.
func (s *Store) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       sessionKey(userID, sessionID),
	})
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var session models.Session
	if err := attributevalue.UnmarshalMap(out.Item, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *Store) Put(ctx context.Context, session *models.Session) error {
	if session.TimeStamp == "" {
		session.TimeStamp = time.Now().UTC().Format(time.RFC3339)
	}
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.SessionID, err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put session %s: %w", session.SessionID, err)
	}
	return nil
}

// AppendTurn atomically appends one turn to the transcript and bumps the
// activity timestamp. Works on records created before the history list
// existed.
func (s *Store) AppendTurn(ctx context.Context, userID, sessionID string, turn models.ChatTurn) error {
	turnAV, err := attributevalue.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal chat turn: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              sessionKey(userID, sessionID),
		UpdateExpression: aws.String("SET chat_history = list_append(if_not_exists(chat_history, :empty), :turn), time_stamp = :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":turn":  &types.AttributeValueMemberL{Value: []types.AttributeValue{turnAV}},
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":ts":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("append turn to session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       sessionKey(userID, sessionID),
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteAllForUser removes every session owned by the user.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ProjectionExpression: aws.String("user_id, session_id"),
	})
	if err != nil {
		return fmt.Errorf("query sessions for user: %w", err)
	}

	for _, item := range out.Items {
		sessionID := ""
		if av, ok := item["session_id"].(*types.AttributeValueMemberS); ok {
			sessionID = av.Value
		}
		if sessionID == "" {
			continue
		}
		if err := s.Delete(ctx, userID, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// List returns the user's sessions newest first. Unfiltered listings are
// capped at 15; when a document identifier filter is given the cap rises to
// 100 since the filter runs after the read.
func (s *Store) List(ctx context.Context, userID, documentIdentifier string) ([]models.SessionSummary, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(timeIndex),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(defaultListLimit),
	}
	if documentIdentifier != "" {
		input.FilterExpression = aws.String("document_identifier = :doc")
		input.ExpressionAttributeValues[":doc"] = &types.AttributeValueMemberS{Value: documentIdentifier}
		input.Limit = aws.Int32(filteredListLimit)
	}

	out, err := s.db.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("list sessions for user: %w", err)
	}

	summaries := make([]models.SessionSummary, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &summaries); err != nil {
		return nil, fmt.Errorf("unmarshal session listing: %w", err)
	}
	return summaries, nil
}
