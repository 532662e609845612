package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/calldeck/callscribe/internal/recorder"
)

// DynamoEventStore persists call events under composite key PK (call id)
// and SK (ordering key). The conditional put turns replays into no-ops,
// and ExpiresAt drives the table's TTL purge.
type DynamoEventStore struct {
	client *dynamodb.Client
	table  string
}

func NewDynamoEventStore(client *dynamodb.Client, table string) recorder.EventStore {
	return &DynamoEventStore{client: client, table: table}
}

func (s *DynamoEventStore) Put(ctx context.Context, rec recorder.Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal event record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		// The record already exists; a replayed event is a successful write.
		return nil
	}
	return err
}
