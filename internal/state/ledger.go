package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Ledger records that the terminal outcome of a task has been announced
// downstream, so a redelivered job cannot announce it twice.
type Ledger interface {
	// Claim returns true the first time it is called for key.
	Claim(ctx context.Context, key string, entry LedgerEntry) (bool, error)
}

// LedgerEntry is stored alongside a claimed key for diagnostics.
type LedgerEntry struct {
	Key             string `dynamodbav:"PK"`
	SchemeAccountID int64  `dynamodbav:"scheme_account_id"`
	Scheme          string `dynamodbav:"scheme"`
	Outcome         string `dynamodbav:"outcome"`
	ClaimedAt       string `dynamodbav:"claimed_at"`
	TTL             int64  `dynamodbav:"ttl"`
}

// DynamoAPI is the subset of the DynamoDB client used by the ledger.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// DynamoLedger implements Ledger with a conditional PutItem per key.
// Entries expire through DynamoDB TTL.
type DynamoLedger struct {
	client    DynamoAPI
	tableName string
	retention time.Duration
}

// NewDynamoLedger creates a ledger on tableName.
func NewDynamoLedger(client DynamoAPI, tableName string, retention time.Duration) *DynamoLedger {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &DynamoLedger{client: client, tableName: tableName, retention: retention}
}

func (l *DynamoLedger) Claim(ctx context.Context, key string, entry LedgerEntry) (bool, error) {
	now := time.Now()
	entry.Key = "TERMINAL#" + key
	entry.ClaimedAt = now.UTC().Format(time.RFC3339)
	entry.TTL = now.Add(l.retention).Unix()

	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) || strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim ledger entry: %w", err)
	}
	return true, nil
}

// EnsureTable creates the ledger table with TTL if it doesn't exist.
func (l *DynamoLedger) EnsureTable(ctx context.Context) error {
	_, err := l.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(l.tableName),
	})
	if err == nil {
		return nil
	}

	_, err = l.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(l.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(l.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(l.tableName),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("failed waiting for table: %w", err)
	}

	_, err = l.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(l.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String("ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable TTL: %w", err)
	}
	return nil
}

// NopLedger claims every key.
type NopLedger struct{}

func (NopLedger) Claim(context.Context, string, LedgerEntry) (bool, error) { return true, nil }

// LedgerKey is the claim key of a task's terminal outcome.
func LedgerKey(messageUID string, schemeAccountID int64) string {
	return messageUID + "#" + strconv.FormatInt(schemeAccountID, 10)
}
