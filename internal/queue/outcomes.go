// Package queue provides the SQS-based producer that hands scheduling
// outcomes to the downstream notification worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"crewbook/internal/config"
	"crewbook/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// OutcomeProducer serializes scheduling outcomes and sends them to the
// outcomes queue. It implements types.OutcomePublisher. Callers treat
// publishing as best-effort; the producer reports errors but the scheduling
// decision has already committed by the time one is published.
type OutcomeProducer struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewOutcomeProducer creates a producer for the configured outcomes queue.
func NewOutcomeProducer(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *OutcomeProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeProducer{
		client:   client,
		queueURL: awsCfg.OutcomeQueue,
		logger:   logger,
	}
}

var _ types.OutcomePublisher = (*OutcomeProducer)(nil)

// Publish sends one outcome message. A missing trace ID is filled in so the
// notification worker can always correlate its logs with ours.
func (p *OutcomeProducer) Publish(ctx context.Context, outcome types.Outcome) error {
	if outcome.TraceID == "" {
		outcome.TraceID = uuid.NewString()
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal outcome: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(outcome.Kind)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send outcome to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "outcome published",
		"queue_url", p.queueURL,
		"kind", string(outcome.Kind),
		"trace_id", outcome.TraceID,
		"quote_id", outcome.QuoteID,
		"job_id", outcome.JobID,
		"crew_id", outcome.CrewID,
	)

	return nil
}
