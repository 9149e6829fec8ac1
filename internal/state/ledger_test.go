package state

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

func newTestLedger(t *testing.T, h http.HandlerFunc) *DynamoLedger {
	t.Helper()

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	cfg, err := config.LoadDefaultConfig(
		context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               server.URL,
					HostnameImmutable: true,
					PartitionID:       "aws",
				}, nil
			},
		)),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.RetryMaxAttempts = 1
	})
	return NewDynamoLedger(client, "midas-ledger-test", time.Hour)
}

func TestDynamoLedger_ClaimOnce(t *testing.T) {
	var puts int32
	var body string

	ledger := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-amz-json-1.0")
		if r.Header.Get("X-Amz-Target") != "DynamoDB_20120810.PutItem" {
			_, _ = io.WriteString(w, `{}`)
			return
		}
		if atomic.AddInt32(&puts, 1) == 1 {
			raw, _ := io.ReadAll(r.Body)
			body = string(raw)
			_, _ = io.WriteString(w, `{}`)
			return
		}
		w.Header().Set("X-Amzn-ErrorType", "ConditionalCheckFailedException")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"__type":"com.amazonaws.dynamodb.v20120810#ConditionalCheckFailedException","message":"The conditional request failed"}`)
	})

	ctx := context.Background()
	entry := LedgerEntry{SchemeAccountID: 9, Scheme: "iceland-bonus-card", Outcome: "FAILED"}

	claimed, err := ledger.Claim(ctx, LedgerKey("uid-9", 9), entry)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}
	if !strings.Contains(body, "attribute_not_exists(PK)") {
		t.Errorf("PutItem is not conditional: %s", body)
	}
	if !strings.Contains(body, "TERMINAL#uid-9#9") {
		t.Errorf("PutItem key missing: %s", body)
	}

	claimed, err = ledger.Claim(ctx, LedgerKey("uid-9", 9), entry)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Error("second claim should report already claimed")
	}
}

func TestDynamoLedger_ClaimError(t *testing.T) {
	ledger := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-amz-json-1.0")
		w.Header().Set("X-Amzn-ErrorType", "ResourceNotFoundException")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"__type":"com.amazonaws.dynamodb.v20120810#ResourceNotFoundException","message":"no table"}`)
	})

	claimed, err := ledger.Claim(context.Background(), "k", LedgerEntry{})
	if err == nil {
		t.Fatal("expected error")
	}
	if claimed {
		t.Error("failed claim must not report success")
	}
}

func TestNopLedger(t *testing.T) {
	for i := 0; i < 2; i++ {
		ok, err := NopLedger{}.Claim(context.Background(), "k", LedgerEntry{})
		if !ok || err != nil {
			t.Fatalf("NopLedger.Claim = %v, %v", ok, err)
		}
	}
}
