// Package notify publishes pipeline events to SNS topics and sends
// completion email to job owners.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the subset of the SNS client the publisher uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher fans events out to SNS topics.
type Publisher struct {
	client SNSAPI
}

// NewPublisher creates a publisher over the given SNS client.
func NewPublisher(client SNSAPI) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals payload as JSON and publishes it to topicARN.
func (p *Publisher) Publish(ctx context.Context, topicARN string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify publish: marshal payload: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("notify publish: %s: %w", topicARN, err)
	}
	return nil
}
