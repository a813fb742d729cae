// Package dynamodb implements blobstore.BlobStore on a DynamoDB table.
//
// Each blob is one item. Items are limited to 400 KB, which comfortably
// fits entity, bucket and queue state for moderately sized partitions.
//
// Table schema:
//   - Partition key: namespace (string)
//   - Sort key: name (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name actoridx-state \
//	  --attribute-definitions AttributeName=namespace,AttributeType=S AttributeName=name,AttributeType=S \
//	  --key-schema AttributeName=namespace,KeyType=HASH AttributeName=name,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/actoridx/blobstore"
)

const (
	attrNamespace = "namespace"
	attrName      = "name"
	attrData      = "data"
)

// Client is the interface for DynamoDB operations.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store keeps blobs as items of one namespace in a DynamoDB table.
type Store struct {
	client    Client
	tableName string
	namespace string
}

var _ blobstore.BlobStore = (*Store)(nil)

// NewStore creates a store over tableName. The namespace isolates systems
// sharing one table.
func NewStore(client Client, tableName, namespace string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		namespace: namespace,
	}
}

func (s *Store) itemKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrNamespace: &types.AttributeValueMemberS{Value: s.namespace},
		attrName:      &types.AttributeValueMemberS{Value: name},
	}
}

// Open reads the item with a consistent read.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get %s: %w", name, err)
	}
	if len(resp.Item) == 0 {
		return nil, blobstore.ErrNotFound
	}

	data, ok := resp.Item[attrData].(*types.AttributeValueMemberB)
	if !ok {
		return nil, errors.New("dynamodb: invalid data attribute")
	}
	return blobstore.NewBytesBlob(data.Value), nil
}

// Put replaces the item.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	item := s.itemKey(name)
	item[attrData] = &types.AttributeValueMemberB{Value: data}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: put %s: %w", name, err)
	}
	return nil
}

// Delete removes the item. Deleting a missing item succeeds.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(name),
	})
	if err != nil {
		return fmt.Errorf("dynamodb: delete %s: %w", name, err)
	}
	return nil
}

// List queries the namespace for names beginning with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#ns = :ns"),
		ExpressionAttributeNames: map[string]string{
			"#ns": attrNamespace,
			"#n":  attrName,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ns": &types.AttributeValueMemberS{Value: s.namespace},
		},
		ProjectionExpression: aws.String("#n"),
		ConsistentRead:       aws.Bool(true),
	}
	if prefix != "" {
		input.KeyConditionExpression = aws.String("#ns = :ns AND begins_with(#n, :p)")
		input.ExpressionAttributeValues[":p"] = &types.AttributeValueMemberS{Value: prefix}
	}

	var names []string
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: list %q: %w", prefix, err)
		}
		for _, item := range page.Items {
			n, ok := item[attrName].(*types.AttributeValueMemberS)
			if !ok {
				return nil, errors.New("dynamodb: invalid name attribute")
			}
			names = append(names, n.Value)
		}
	}
	sort.Strings(names)
	return names, nil
}
