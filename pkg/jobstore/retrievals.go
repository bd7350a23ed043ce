package jobstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RetrievalStore is the side table correlating cold-vault retrieval job ids
// with application jobs. Retrieval completion events are keyed by the
// vault's own job id; without this table the only way back to our job_id
// would be parsing the free-text job description, which breaks silently the
// moment the description format changes.
type RetrievalStore struct {
	client API
	table  string
}

// NewRetrievalStore creates a retrieval correlation store over the given table.
func NewRetrievalStore(client API, table string) *RetrievalStore {
	return &RetrievalStore{client: client, table: table}
}

func (s *RetrievalStore) key(retrievalJobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"retrieval_job_id": &types.AttributeValueMemberS{Value: retrievalJobID},
	}
}

// Put records a correlation row at retrieval initiation time.
func (s *RetrievalStore) Put(ctx context.Context, r *Retrieval) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return &StoreError{Op: "Put", Table: s.table, JobID: r.JobID, Err: err}
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return &StoreError{Op: "Put", Table: s.table, JobID: r.JobID, Err: err}
	}
	return nil
}

// Get looks up the correlation row for a vault retrieval job id.
func (s *RetrievalStore) Get(ctx context.Context, retrievalJobID string) (*Retrieval, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(retrievalJobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, &StoreError{Op: "Get", Table: s.table, Err: err}
	}
	if len(out.Item) == 0 {
		return nil, &StoreError{Op: "Get", Table: s.table, Err: ErrNotFound}
	}

	var r Retrieval
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, &StoreError{Op: "Get", Table: s.table, Err: err}
	}
	return &r, nil
}

// Delete removes the correlation row once the restore has converged.
func (s *RetrievalStore) Delete(ctx context.Context, retrievalJobID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(retrievalJobID),
	})
	if err != nil {
		return &StoreError{Op: "Delete", Table: s.table, Err: err}
	}
	return nil
}
