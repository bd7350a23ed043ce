// Package events defines the wire payloads exchanged between the pipeline
// daemons over SQS, SNS, and the HTTP ingest endpoints.
//
// Payloads travel either bare (direct SQS sends from the submission tier) or
// wrapped in the SNS delivery envelope when relayed through a topic
// subscription. Decode helpers handle both shapes.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is the SNS delivery wrapper. Only the fields the pipeline reads
// are declared; everything else in the SNS payload is ignored.
type Envelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId,omitempty"`
	TopicArn     string `json:"TopicArn,omitempty"`
	Message      string `json:"Message,omitempty"`
	Token        string `json:"Token,omitempty"`
	SubscribeURL string `json:"SubscribeURL,omitempty"`
}

// Envelope types as delivered by SNS.
const (
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeNotification             = "Notification"
)

// ErrMalformedEnvelope indicates a body that is neither a bare payload nor a
// recognizable SNS envelope.
var ErrMalformedEnvelope = errors.New("malformed notification envelope")

// JobRequest announces a newly submitted job to the annotator.
type JobRequest struct {
	JobID       string `json:"job_id"`
	UserID      string `json:"user_id"`
	UserTier    string `json:"user_tier"`
	InputBucket string `json:"input_bucket"`
	InputKey    string `json:"input_key"`
}

// Validate checks the fields the lifecycle manager cannot proceed without.
func (r JobRequest) Validate() error {
	switch {
	case r.JobID == "":
		return fmt.Errorf("job request: job_id is required")
	case r.InputBucket == "" || r.InputKey == "":
		return fmt.Errorf("job request %s: input location is required", r.JobID)
	}
	return nil
}

// JobComplete is published to the results topic when a job reaches COMPLETED.
// UserTier is the tier snapshot taken at submission; the archiver's
// eligibility decision reads it from here, never from a live profile lookup.
type JobComplete struct {
	JobID        string    `json:"job_id"`
	UserID       string    `json:"user_id"`
	UserTier     string    `json:"user_tier"`
	ResultBucket string    `json:"result_bucket"`
	ResultKey    string    `json:"result_key"`
	CompleteTime time.Time `json:"complete_time"`
}

// TierUpgrade announces that a user moved to the premium tier and their
// archived results should be thawed.
type TierUpgrade struct {
	UserID string `json:"user_id"`
}

// RetrievalComplete is the shape Glacier publishes to its notification topic
// when an archive-retrieval job finishes. Field names follow the Glacier
// payload, not ours.
type RetrievalComplete struct {
	RetrievalJobID string `json:"JobId"`
	ArchiveID      string `json:"ArchiveId"`
	StatusCode     string `json:"StatusCode"`
	JobDescription string `json:"JobDescription,omitempty"`
}

// StatusSucceeded is the Glacier retrieval-job terminal success code.
const StatusSucceeded = "Succeeded"

// Unwrap returns the inner payload bytes of body. A Notification envelope
// yields its Message field; anything that parses as a JSON object without a
// Type marker is treated as a bare payload. SubscriptionConfirmation
// envelopes are returned as-is with ok=false so callers can run the
// handshake.
func Unwrap(body []byte) (payload []byte, env *Envelope, err error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch e.Type {
	case TypeNotification:
		if e.Message == "" {
			return nil, &e, fmt.Errorf("%w: notification with empty message", ErrMalformedEnvelope)
		}
		return []byte(e.Message), &e, nil
	case TypeSubscriptionConfirmation:
		return nil, &e, nil
	case "":
		// Bare payload, no envelope.
		return body, nil, nil
	default:
		return nil, &e, fmt.Errorf("%w: unsupported type %q", ErrMalformedEnvelope, e.Type)
	}
}

// Decode unwraps body and unmarshals the payload into v. It fails on
// SubscriptionConfirmation envelopes; those are handshake traffic, not
// payloads.
func Decode(body []byte, v any) error {
	payload, env, err := Unwrap(body)
	if err != nil {
		return err
	}
	if payload == nil {
		return fmt.Errorf("%w: %s envelope carries no payload", ErrMalformedEnvelope, env.Type)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}
