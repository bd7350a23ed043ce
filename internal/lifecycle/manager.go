// Package lifecycle drives a job from PENDING to a terminal processing
// state, exactly once per job despite at-least-once queue delivery.
//
// The idempotency guard is the load-bearing mechanism: the queue may
// redeliver a request at any time, so the handler checks the job's status
// before acting and treats anything past PENDING as a duplicate. Cross-job
// coordination happens entirely through conditional updates on the job
// table; two handlers racing on the same job id cannot both win the
// PENDING to RUNNING transition.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/annexlab/annex/internal/worker"
	"github.com/annexlab/annex/pkg/events"
	"github.com/annexlab/annex/pkg/jobstore"
	"github.com/annexlab/annex/pkg/queue"
)

// JobStore is the job-table surface the manager mutates.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*jobstore.Record, error)
	UpdateStatus(ctx context.Context, jobID string, to jobstore.Status, from ...jobstore.Status) error
	MarkCompleted(ctx context.Context, jobID, resultBucket, resultKey, logKey string, completeTime time.Time) error
	MarkFailed(ctx context.Context, jobID string) error
}

// ObjectStore is the warm-storage surface the manager uses.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, path string) error
	Upload(ctx context.Context, bucket, key, path string) error
}

// Publisher fans out completion events.
type Publisher interface {
	Publish(ctx context.Context, topicARN string, payload any) error
}

// Launcher starts the annotation worker.
type Launcher interface {
	StagingPath(jobID, inputKey string) string
	Launch(jobID, inputPath string, onExit func(jobID string, success bool)) error
}

// Config configures the manager.
type Config struct {
	// ResultsBucket receives result and log artifacts.
	ResultsBucket string

	// ResultsTopic is the completion fan-out topic ARN.
	ResultsTopic string

	// KeyPrefix prefixes result/log object keys.
	KeyPrefix string
}

// Manager is the job lifecycle manager.
type Manager struct {
	cfg       Config
	store     JobStore
	objects   ObjectStore
	publisher Publisher
	launcher  Launcher
	logger    *zap.Logger

	// now is a clock hook for tests.
	now func() time.Time
}

// New creates a lifecycle manager.
func New(cfg Config, store JobStore, objects ObjectStore, publisher Publisher, launcher Launcher, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		objects:   objects,
		publisher: publisher,
		launcher:  launcher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleRequest processes one job-request notification. A nil return
// acknowledges the message; errors leave it for redelivery except data
// errors, which wrap queue.ErrDrop.
func (m *Manager) HandleRequest(ctx context.Context, msg queue.Message) error {
	var req events.JobRequest
	if err := events.Decode(msg.Body, &req); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrDrop, err)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrDrop, err)
	}

	rec, err := m.store.Get(ctx, req.JobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return fmt.Errorf("%w: no record for job %s", queue.ErrDrop, req.JobID)
		}
		return err
	}

	// Idempotency guard: anything past PENDING means this notification was
	// already handled. Acknowledge without side effects.
	if rec.Status != jobstore.StatusPending {
		m.logger.Info("duplicate request suppressed",
			zap.String("job_id", req.JobID),
			zap.String("status", string(rec.Status)))
		return nil
	}

	inputPath := m.launcher.StagingPath(req.JobID, req.InputKey)
	if err := os.MkdirAll(filepath.Dir(inputPath), 0755); err != nil {
		return fmt.Errorf("stage job %s: %w", req.JobID, err)
	}
	if err := m.objects.Download(ctx, req.InputBucket, req.InputKey, inputPath); err != nil {
		// No status change: redelivery re-enters at PENDING.
		return fmt.Errorf("fetch input for job %s: %w", req.JobID, err)
	}

	if err := m.store.UpdateStatus(ctx, req.JobID, jobstore.StatusRunning, jobstore.StatusPending); err != nil {
		if jobstore.IsConditionFailed(err) {
			// A concurrent handler won the transition; this delivery is
			// done.
			m.logger.Info("lost running transition to concurrent handler",
				zap.String("job_id", req.JobID))
			return nil
		}
		return err
	}

	if err := m.launcher.Launch(req.JobID, inputPath, m.onWorkerExit); err != nil {
		// Put the job back so redelivery re-enters at PENDING.
		if rerr := m.store.UpdateStatus(ctx, req.JobID, jobstore.StatusPending, jobstore.StatusRunning); rerr != nil {
			m.logger.Error("failed to revert job to pending after launch failure",
				zap.String("job_id", req.JobID), zap.Error(rerr))
		}
		return fmt.Errorf("launch worker for job %s: %w", req.JobID, err)
	}

	return nil
}

func (m *Manager) onWorkerExit(jobID string, success bool) {
	if err := m.HandleCompletion(context.Background(), jobID, success); err != nil {
		m.logger.Error("completion handling failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

// HandleCompletion finishes the state machine after the worker exits. On
// success the result and log artifacts are uploaded, the record moves to
// COMPLETED, and a completion event is published. On worker failure the job
// settles at FAILED with local files kept for inspection.
func (m *Manager) HandleCompletion(ctx context.Context, jobID string, success bool) error {
	rec, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if !success {
		if err := m.store.MarkFailed(ctx, jobID); err != nil {
			return err
		}
		m.logger.Warn("job failed", zap.String("job_id", jobID))
		return nil
	}

	inputPath := m.launcher.StagingPath(jobID, rec.InputKey)
	resultPath := worker.ResultPath(inputPath)
	logPath := worker.LogPath(inputPath)

	resultKey := m.objectKey(rec, filepath.Base(resultPath))
	logKey := m.objectKey(rec, filepath.Base(logPath))
	completeTime := m.now().UTC()

	// Upload and table-update failures get one retry each; beyond that the
	// job is left at RUNNING and surfaced as an operational error.
	if err := retryOnce(func() error {
		return m.objects.Upload(ctx, m.cfg.ResultsBucket, resultKey, resultPath)
	}); err != nil {
		return m.unresolved(jobID, "upload result", err)
	}
	if err := retryOnce(func() error {
		return m.objects.Upload(ctx, m.cfg.ResultsBucket, logKey, logPath)
	}); err != nil {
		return m.unresolved(jobID, "upload log", err)
	}
	if err := retryOnce(func() error {
		return m.store.MarkCompleted(ctx, jobID, m.cfg.ResultsBucket, resultKey, logKey, completeTime)
	}); err != nil {
		return m.unresolved(jobID, "record completion", err)
	}

	// Artifacts are durable and the record is consistent; local copies can
	// go now.
	for _, p := range []string{inputPath, resultPath, logPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove local artifact",
				zap.String("job_id", jobID), zap.String("path", p), zap.Error(err))
		}
	}

	event := events.JobComplete{
		JobID:        jobID,
		UserID:       rec.UserID,
		UserTier:     string(rec.UserTier),
		ResultBucket: m.cfg.ResultsBucket,
		ResultKey:    resultKey,
		CompleteTime: completeTime,
	}
	if err := m.publisher.Publish(ctx, m.cfg.ResultsTopic, event); err != nil {
		return fmt.Errorf("publish completion for job %s: %w", jobID, err)
	}

	m.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.String("result_key", resultKey))
	return nil
}

// objectKey builds a result-bucket key: <prefix>/<user>/<job>/<filename>.
func (m *Manager) objectKey(rec *jobstore.Record, filename string) string {
	return path.Join(m.cfg.KeyPrefix, rec.UserID, rec.JobID, filename)
}

// unresolved logs the known-limitation path where a worker succeeded but the
// completion bookkeeping did not: the job stays at RUNNING with no
// compensating transition, and the error is surfaced to the operator.
func (m *Manager) unresolved(jobID, step string, err error) error {
	m.logger.Error("job left unresolved at RUNNING",
		zap.String("job_id", jobID),
		zap.String("step", step),
		zap.Error(err))
	return fmt.Errorf("%s for job %s: %w", step, jobID, err)
}

func retryOnce(op func() error) error {
	if err := op(); err == nil {
		return nil
	}
	return op()
}
