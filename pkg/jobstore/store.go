// Package jobstore persists annotation job lifecycle records in DynamoDB.
//
// The table is the only shared mutable state between the pipeline daemons,
// so every mutation is a targeted conditional update: the expected-state
// predicate is evaluated by the table, and a failed predicate surfaces as
// ErrConditionFailed rather than clobbering a concurrent writer.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store reads and mutates job records in the annotations table.
type Store struct {
	client API
	table  string
}

// New creates a job store over the given table.
func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) key(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: jobID},
	}
}

// Get fetches the record for jobID with a consistent read.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.wrapError("Get", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, &StoreError{Op: "Get", Table: s.table, JobID: jobID, Err: ErrNotFound}
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, s.wrapError("Get", jobID, err)
	}
	return &rec, nil
}

// Put creates the record. Creation is the only whole-record write; it fails
// with ErrAlreadyExists if the job id is taken.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return s.wrapError("Put", rec.JobID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(job_id)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return &StoreError{Op: "Put", Table: s.table, JobID: rec.JobID, Err: ErrAlreadyExists}
		}
		return s.wrapError("Put", rec.JobID, err)
	}
	return nil
}

// UpdateStatus moves the record to status to, conditional on the current
// status being one of from. With no from values the update is unconditional.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, to Status, from ...Status) error {
	upd := expression.Set(expression.Name("status"), expression.Value(to))
	builder := expression.NewBuilder().WithUpdate(upd)
	if len(from) > 0 {
		builder = builder.WithCondition(statusIn(from))
	}
	return s.update(ctx, "UpdateStatus", jobID, builder)
}

// MarkCompleted records the result and log locations, the completion time,
// and the COMPLETED status in one update. Locations are written exactly once,
// on the RUNNING to COMPLETED transition.
func (s *Store) MarkCompleted(ctx context.Context, jobID, resultBucket, resultKey, logKey string, completeTime time.Time) error {
	upd := expression.
		Set(expression.Name("status"), expression.Value(StatusCompleted)).
		Set(expression.Name("result_bucket"), expression.Value(resultBucket)).
		Set(expression.Name("result_key"), expression.Value(resultKey)).
		Set(expression.Name("log_key"), expression.Value(logKey)).
		Set(expression.Name("complete_time"), expression.Value(completeTime.Unix()))
	builder := expression.NewBuilder().
		WithUpdate(upd).
		WithCondition(statusIn([]Status{StatusRunning}))
	return s.update(ctx, "MarkCompleted", jobID, builder)
}

// MarkFailed records a terminal worker failure. Only a RUNNING job can fail.
func (s *Store) MarkFailed(ctx context.Context, jobID string) error {
	return s.UpdateStatus(ctx, jobID, StatusFailed, StatusRunning)
}

// MarkArchived records the cold-vault handle for a completed job. The
// condition rejects double archival: the job must still be plain COMPLETED
// with no handle.
func (s *Store) MarkArchived(ctx context.Context, jobID, archiveHandle string) error {
	upd := expression.
		Set(expression.Name("status"), expression.Value(StatusArchived)).
		Set(expression.Name("archive_handle"), expression.Value(archiveHandle))
	cond := statusIn([]Status{StatusCompleted}).
		And(expression.Name("archive_handle").AttributeNotExists())
	builder := expression.NewBuilder().WithUpdate(upd).WithCondition(cond)
	return s.update(ctx, "MarkArchived", jobID, builder)
}

// MarkRestoring flags an archived job whose retrieval has been initiated.
func (s *Store) MarkRestoring(ctx context.Context, jobID string) error {
	upd := expression.Set(expression.Name("status"), expression.Value(StatusRestoring))
	cond := expression.Name("archive_handle").AttributeExists()
	builder := expression.NewBuilder().WithUpdate(upd).WithCondition(cond)
	return s.update(ctx, "MarkRestoring", jobID, builder)
}

// MarkRestored clears the archive handle and settles the job at RESTORED.
// The result is live in the results bucket again at its original location.
func (s *Store) MarkRestored(ctx context.Context, jobID string) error {
	upd := expression.
		Set(expression.Name("status"), expression.Value(StatusRestored)).
		Remove(expression.Name("archive_handle"))
	cond := expression.Name("archive_handle").AttributeExists()
	builder := expression.NewBuilder().WithUpdate(upd).WithCondition(cond)
	return s.update(ctx, "MarkRestored", jobID, builder)
}

// ListArchivedByUser returns every job owned by userID whose result is still
// in the cold vault. Paginates the scan until exhaustion.
func (s *Store) ListArchivedByUser(ctx context.Context, userID string) ([]Record, error) {
	filter := expression.Name("user_id").Equal(expression.Value(userID)).
		And(expression.Name("archive_handle").AttributeExists())
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, s.wrapError("ListArchivedByUser", "", err)
	}

	var out []Record
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, s.wrapError("ListArchivedByUser", "", err)
		}

		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, s.wrapError("ListArchivedByUser", "", err)
		}
		out = append(out, recs...)

		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	return out, nil
}

func (s *Store) update(ctx context.Context, op, jobID string, builder expression.Builder) error {
	expr, err := builder.Build()
	if err != nil {
		return s.wrapError(op, jobID, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(jobID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailure(err) {
			return &StoreError{Op: op, Table: s.table, JobID: jobID, Err: ErrConditionFailed}
		}
		return s.wrapError(op, jobID, err)
	}
	return nil
}

func (s *Store) wrapError(op, jobID string, err error) error {
	return &StoreError{Op: op, Table: s.table, JobID: jobID, Err: err}
}

// statusIn builds a condition accepting any of the given statuses.
func statusIn(statuses []Status) expression.ConditionBuilder {
	name := expression.Name("status")
	first := expression.Value(statuses[0])
	rest := make([]expression.OperandBuilder, 0, len(statuses)-1)
	for _, st := range statuses[1:] {
		rest = append(rest, expression.Value(st))
	}
	return name.In(first, rest...)
}

func isConditionFailure(err error) bool {
	var cond *types.ConditionalCheckFailedException
	return errors.As(err, &cond)
}
