// Package draft persists in-progress grant applications keyed by
// (user id, session id), mirroring the session table layout.
package draft

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	commonaws "grantwell/internal/common/aws"
	"grantwell/internal/models"
)

type Store struct {
	db    commonaws.DynamoDBAPI
	table string
}

func NewStore(db commonaws.DynamoDBAPI, table string) *Store {
	return &Store{db: db, table: table}
}

func draftKey(userID, sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id":    &types.AttributeValueMemberS{Value: userID},
		"session_id": &types.AttributeValueMemberS{Value: sessionID},
	}
}

func (s *Store) Get(ctx context.Context, userID, sessionID string) (*models.Draft, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       draftKey(userID, sessionID),
	})
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", sessionID, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var draft models.Draft
	if err := attributevalue.UnmarshalMap(out.Item, &draft); err != nil {
		return nil, fmt.Errorf("unmarshal draft %s: %w", sessionID, err)
	}
	return &draft, nil
}

// Put writes the full draft record, stamping last_modified.
func (s *Store) Put(ctx context.Context, draft *models.Draft) error {
	draft.LastModified = time.Now().UTC().Format(time.RFC3339)
	if draft.Status == "" {
		draft.Status = models.DraftStatusProjectBasics
	}

	item, err := attributevalue.MarshalMap(draft)
	if err != nil {
		return fmt.Errorf("marshal draft %s: %w", draft.SessionID, err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put draft %s: %w", draft.SessionID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       draftKey(userID, sessionID),
	})
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", sessionID, err)
	}
	return nil
}

// ListByUser returns the user's drafts, most recently modified first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.Draft, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}

	drafts := make([]models.Draft, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &drafts); err != nil {
		return nil, fmt.Errorf("unmarshal draft listing: %w", err)
	}
	// Most recently modified first; the table has no time index.
	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].LastModified > drafts[j].LastModified
	})
	return drafts, nil
}
