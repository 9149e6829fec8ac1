package bus

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of the SQS client used by SQSSource.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
}

// SQSSource long-polls one SQS queue.
type SQSSource struct {
	client      SQSAPI
	queueURL    string
	waitSeconds int32
}

// NewSQSSource resolves queueName and returns a source reading from it.
func NewSQSSource(ctx context.Context, client SQSAPI, queueName string, waitSeconds int32) (*SQSSource, error) {
	result, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return nil, fmt.Errorf("get SQS queue URL for %s: %w", queueName, err)
	}
	if waitSeconds < 0 || waitSeconds > 20 {
		waitSeconds = 20
	}
	return &SQSSource{client: client, queueURL: aws.ToString(result.QueueUrl), waitSeconds: waitSeconds}, nil
}

// Receive returns at most 10 messages, the SQS per-call maximum.
func (s *SQSSource) Receive(ctx context.Context) ([]Delivery, error) {
	result, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(s.queueURL),
		MaxNumberOfMessages:   10,
		WaitTimeSeconds:       s.waitSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("SQS ReceiveMessage: %w", err)
	}

	deliveries := make([]Delivery, 0, len(result.Messages))
	for _, msg := range result.Messages {
		attrs := make(map[string]string, len(msg.MessageAttributes))
		for k, v := range msg.MessageAttributes {
			if v.StringValue != nil {
				attrs[k] = *v.StringValue
			}
		}
		handle := aws.ToString(msg.ReceiptHandle)
		deliveries = append(deliveries, Delivery{
			Message: Message{
				ID:         aws.ToString(msg.MessageId),
				Body:       []byte(aws.ToString(msg.Body)),
				Attributes: attrs,
			},
			Ack: func(ctx context.Context) error {
				_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(s.queueURL),
					ReceiptHandle: aws.String(handle),
				})
				return err
			},
		})
	}
	return deliveries, nil
}

// Ping checks that SQS is reachable.
func (s *SQSSource) Ping(ctx context.Context) error {
	_, err := s.client.ListQueues(ctx, &sqs.ListQueuesInput{MaxResults: aws.Int32(1)})
	return err
}

func (s *SQSSource) Close() error { return nil }
