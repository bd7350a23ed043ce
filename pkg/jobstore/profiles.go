package jobstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Profile is the slice of the accounts table the pipeline reads: enough to
// address completion email. The web tier owns the rest of the schema.
type Profile struct {
	UserID string `dynamodbav:"user_id" json:"user_id"`
	Email  string `dynamodbav:"email" json:"email"`
	Name   string `dynamodbav:"name,omitempty" json:"name,omitempty"`
}

// ProfileStore reads user profiles.
type ProfileStore struct {
	client API
	table  string
}

// NewProfileStore creates a profile store over the given table.
func NewProfileStore(client API, table string) *ProfileStore {
	return &ProfileStore{client: client, table: table}
}

// Get looks up the profile for userID.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*Profile, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, &StoreError{Op: "Get", Table: s.table, Err: err}
	}
	if len(out.Item) == 0 {
		return nil, &StoreError{Op: "Get", Table: s.table, Err: ErrNotFound}
	}

	var p Profile
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, &StoreError{Op: "Get", Table: s.table, Err: err}
	}
	return &p, nil
}
