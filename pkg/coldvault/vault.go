// Package coldvault wraps the Glacier vault holding archived results.
//
// Retrieval is asynchronous: InitiateRetrieval starts a vault-side job and
// completion arrives later on the vault's notification topic. The expedited
// tier can be refused outright on capacity; that refusal is surfaced as
// ErrInsufficientCapacity so callers can fall back to the standard tier.
package coldvault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	glaciertypes "github.com/aws/aws-sdk-go-v2/service/glacier/types"
)

// RetrievalTier selects the speed/cost class of an archive retrieval.
type RetrievalTier string

const (
	TierExpedited RetrievalTier = "Expedited"
	TierStandard  RetrievalTier = "Standard"
)

// retrievalJobType is the vault job type for pulling an archive back out.
const retrievalJobType = "archive-retrieval"

// Sentinel errors for vault operations.
var (
	// ErrInsufficientCapacity indicates the expedited tier refused the
	// retrieval for capacity reasons. Standard-tier retrievals do not
	// return it.
	ErrInsufficientCapacity = errors.New("retrieval capacity unavailable")

	// ErrArchiveNotFound indicates the archive handle no longer resolves.
	ErrArchiveNotFound = errors.New("archive not found")
)

// VaultError wraps vault errors with operation context.
type VaultError struct {
	Op    string
	Vault string
	Err   error
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("coldvault %s: %s: %v", e.Op, e.Vault, e.Err)
}

func (e *VaultError) Unwrap() error {
	return e.Err
}

// API is the subset of the Glacier client the vault uses.
type API interface {
	UploadArchive(ctx context.Context, params *glacier.UploadArchiveInput, optFns ...func(*glacier.Options)) (*glacier.UploadArchiveOutput, error)
	InitiateJob(ctx context.Context, params *glacier.InitiateJobInput, optFns ...func(*glacier.Options)) (*glacier.InitiateJobOutput, error)
	GetJobOutput(ctx context.Context, params *glacier.GetJobOutputInput, optFns ...func(*glacier.Options)) (*glacier.GetJobOutputOutput, error)
	DeleteArchive(ctx context.Context, params *glacier.DeleteArchiveInput, optFns ...func(*glacier.Options)) (*glacier.DeleteArchiveOutput, error)
}

// Vault performs archive operations against a single Glacier vault.
type Vault struct {
	client API
	vault  string

	// snsTopic receives retrieval-completion notifications.
	snsTopic string
}

// New creates a vault wrapper. snsTopic is the ARN retrieval jobs notify on
// completion; empty disables notification (tests).
func New(client API, vaultName, snsTopic string) *Vault {
	return &Vault{client: client, vault: vaultName, snsTopic: snsTopic}
}

// accountID is the Glacier account parameter; "-" means the caller's account.
var accountID = aws.String("-")

// Submit stores body in the vault and returns the opaque archive handle.
func (v *Vault) Submit(ctx context.Context, body []byte) (string, error) {
	out, err := v.client.UploadArchive(ctx, &glacier.UploadArchiveInput{
		AccountId: accountID,
		VaultName: aws.String(v.vault),
		Body:      bytes.NewReader(body),
	})
	if err != nil {
		return "", v.wrapError("Submit", err)
	}
	return aws.ToString(out.ArchiveId), nil
}

// InitiateRetrieval starts an asynchronous retrieval of archiveHandle at the
// given tier and returns the vault's retrieval job id. The description is
// informational only; correlation back to the application job is persisted
// separately, never parsed out of this string.
func (v *Vault) InitiateRetrieval(ctx context.Context, archiveHandle string, tier RetrievalTier, description string) (string, error) {
	params := &glaciertypes.JobParameters{
		Type:      aws.String(retrievalJobType),
		ArchiveId: aws.String(archiveHandle),
		Tier:      aws.String(string(tier)),
	}
	if description != "" {
		params.Description = aws.String(description)
	}
	if v.snsTopic != "" {
		params.SNSTopic = aws.String(v.snsTopic)
	}

	out, err := v.client.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId:     accountID,
		VaultName:     aws.String(v.vault),
		JobParameters: params,
	})
	if err != nil {
		return "", v.wrapError("InitiateRetrieval", err)
	}
	return aws.ToString(out.JobId), nil
}

// RetrievalOutput reads the restored bytes of a completed retrieval job.
func (v *Vault) RetrievalOutput(ctx context.Context, retrievalJobID string) ([]byte, error) {
	out, err := v.client.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: accountID,
		VaultName: aws.String(v.vault),
		JobId:     aws.String(retrievalJobID),
	})
	if err != nil {
		return nil, v.wrapError("RetrievalOutput", err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, v.wrapError("RetrievalOutput", err)
	}
	return body, nil
}

// DeleteArchive removes the cold copy once the result is live again.
func (v *Vault) DeleteArchive(ctx context.Context, archiveHandle string) error {
	_, err := v.client.DeleteArchive(ctx, &glacier.DeleteArchiveInput{
		AccountId: accountID,
		VaultName: aws.String(v.vault),
		ArchiveId: aws.String(archiveHandle),
	})
	if err != nil {
		return v.wrapError("DeleteArchive", err)
	}
	return nil
}

func (v *Vault) wrapError(op string, err error) error {
	wrapped := &VaultError{Op: op, Vault: v.vault, Err: err}

	var capacity *glaciertypes.InsufficientCapacityException
	if errors.As(err, &capacity) {
		wrapped.Err = ErrInsufficientCapacity
		return wrapped
	}
	var missing *glaciertypes.ResourceNotFoundException
	if errors.As(err, &missing) {
		wrapped.Err = ErrArchiveNotFound
		return wrapped
	}
	return wrapped
}
