package nofo

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

// MetadataStore persists NOFO metadata rows keyed by opportunity title.
// Writes are idempotent upserts; each row is owned exclusively by its title.
type MetadataStore struct {
	db    commonaws.DynamoDBAPI
	table string
}

func NewMetadataStore(db commonaws.DynamoDBAPI, table string) *MetadataStore {
	return &MetadataStore{db: db, table: table}
}

// Get returns the row for name, or nil when absent.
func (s *MetadataStore) Get(ctx context.Context, name string) (*models.NOFOMetadata, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get metadata %q: %w", name, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var meta models.NOFOMetadata
	if err := attributevalue.UnmarshalMap(out.Item, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata %q: %w", name, err)
	}
	return &meta, nil
}

func (s *MetadataStore) Put(ctx context.Context, meta *models.NOFOMetadata) error {
	item, err := attributevalue.MarshalMap(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata %q: %w", meta.Name, err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put metadata %q: %w", meta.Name, err)
	}
	return nil
}

// Backfill sets only the given attributes plus updatedAt, creating the row if
// it does not exist. Fields owned by other writers are left untouched.
func (s *MetadataStore) Backfill(ctx context.Context, name string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	expr := "SET updatedAt = :updatedAt"
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	i := 0
	for field, value := range fields {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		expr += fmt.Sprintf(", %s = %s", nameKey, valueKey)
		names[nameKey] = field
		values[valueKey] = &types.AttributeValueMemberS{Value: value}
		i++
	}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("backfill metadata %q: %w", name, err)
	}
	return nil
}

// List scans all rows. The catalog is small (hundreds of entries), so a full
// scan with pagination is acceptable here.
func (s *MetadataStore) List(ctx context.Context) ([]models.NOFOMetadata, error) {
	var rows []models.NOFOMetadata
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}

		var page []models.NOFOMetadata
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal metadata scan: %w", err)
		}
		rows = append(rows, page...)

		if out.LastEvaluatedKey == nil {
			return rows, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *MetadataStore) UpdateStatus(ctx context.Context, name string, status models.NOFOStatus) error {
	return s.Backfill(ctx, name, map[string]string{"status": string(status)})
}

func (s *MetadataStore) SetPinned(ctx context.Context, name string, pinned bool) error {
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression: aws.String("SET isPinned = :pinned, updatedAt = :updatedAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pinned":    &types.AttributeValueMemberBOOL{Value: pinned},
			":updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("set pinned %q: %w", name, err)
	}
	return nil
}

// Rename moves a row to a new title key. The old row is removed only after
// the new one is written.
func (s *MetadataStore) Rename(ctx context.Context, oldName, newName string) error {
	meta, err := s.Get(ctx, oldName)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("rename metadata: %q not found", oldName)
	}

	meta.Name = newName
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := s.Put(ctx, meta); err != nil {
		return err
	}
	return s.Delete(ctx, oldName)
}

func (s *MetadataStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return fmt.Errorf("delete metadata %q: %w", name, err)
	}
	return nil
}
