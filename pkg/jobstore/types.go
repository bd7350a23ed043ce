package jobstore

import "time"

// Status is the lifecycle state of an annotation job.
//
// NOTE: These values are persisted in the annotations table and are part of
// the stable storage contract.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusArchived  Status = "ARCHIVED"
	StatusRestoring Status = "RESTORING"
	StatusRestored  Status = "RESTORED"
)

// Tier is the user's service class at submission time. It is a snapshot: a
// later upgrade triggers bulk restoration but never rewrites the tier stored
// on an existing job.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// rank orders statuses along the forward-only lifecycle. FAILED shares the
// terminal rank with COMPLETED; the archive refinement states extend beyond.
var rank = map[Status]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusFailed:    2,
	StatusArchived:  3,
	StatusRestoring: 4,
	StatusRestored:  5,
}

// Known reports whether s is a recognized status value.
func (s Status) Known() bool {
	_, ok := rank[s]
	return ok
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. FAILED is terminal; the archive refinement only applies to
// completed jobs.
func (s Status) CanTransition(next Status) bool {
	from, ok := rank[s]
	if !ok {
		return false
	}
	to, ok := rank[next]
	if !ok {
		return false
	}
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		// FAILED is only reachable from RUNNING.
		return s == StatusRunning
	}
	return to > from
}

// Record is the annotations-table row for a single job. Created once by the
// submission tier with status PENDING; every later change is a targeted
// update to specific fields, never a whole-row overwrite.
type Record struct {
	JobID    string `dynamodbav:"job_id" json:"job_id"`
	UserID   string `dynamodbav:"user_id" json:"user_id"`
	UserTier Tier   `dynamodbav:"user_tier" json:"user_tier"`

	InputBucket string `dynamodbav:"input_bucket" json:"input_bucket"`
	InputKey    string `dynamodbav:"input_key" json:"input_key"`

	ResultBucket string `dynamodbav:"result_bucket,omitempty" json:"result_bucket,omitempty"`
	ResultKey    string `dynamodbav:"result_key,omitempty" json:"result_key,omitempty"`
	LogKey       string `dynamodbav:"log_key,omitempty" json:"log_key,omitempty"`

	Status Status `dynamodbav:"status" json:"status"`

	SubmitTime   time.Time  `dynamodbav:"submit_time,unixtime" json:"submit_time"`
	CompleteTime *time.Time `dynamodbav:"complete_time,unixtime,omitempty" json:"complete_time,omitempty"`

	// ArchiveHandle is set while the result lives in the cold vault and
	// cleared on restore. Status carries the authoritative ARCHIVED state;
	// the handle exists so the thaw scan can find retrievable jobs.
	ArchiveHandle string `dynamodbav:"archive_handle,omitempty" json:"archive_handle,omitempty"`
}

// Archived reports whether the job's result currently lives in cold storage.
func (r *Record) Archived() bool {
	return r.ArchiveHandle != ""
}

// Retrieval correlates a cold-vault retrieval job with the application job
// that initiated it. Written when retrieval is initiated, deleted once the
// restored bytes land back in the results bucket.
type Retrieval struct {
	RetrievalJobID string    `dynamodbav:"retrieval_job_id" json:"retrieval_job_id"`
	JobID          string    `dynamodbav:"job_id" json:"job_id"`
	UserID         string    `dynamodbav:"user_id" json:"user_id"`
	ArchiveHandle  string    `dynamodbav:"archive_handle" json:"archive_handle"`
	Tier           string    `dynamodbav:"retrieval_tier" json:"retrieval_tier"`
	InitiatedAt    time.Time `dynamodbav:"initiated_at,unixtime" json:"initiated_at"`
}
