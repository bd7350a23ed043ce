// Package worker launches the external annotation worker as a detached
// child process.
//
// The worker is a black box: it takes the input path as its only argument,
// writes the result and log files next to it by naming convention, and
// signals success with exit code 0. The launcher captures stdout/stderr to
// per-job log files and reports the exit status through a callback, so the
// notification-handling path never blocks on a running worker.
package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Launcher spawns annotation workers, one staging directory per job.
type Launcher struct {
	command string
	jobsDir string
	logger  *zap.Logger
}

// NewLauncher creates a launcher running command with staging under jobsDir.
func NewLauncher(command, jobsDir string, logger *zap.Logger) *Launcher {
	return &Launcher{command: command, jobsDir: jobsDir, logger: logger}
}

// JobDir is the staging directory for one job.
func (l *Launcher) JobDir(jobID string) string {
	return filepath.Join(l.jobsDir, jobID)
}

// StagingPath is where a job's input artifact is downloaded, named after the
// object key's base name.
func (l *Launcher) StagingPath(jobID, inputKey string) string {
	return filepath.Join(l.JobDir(jobID), filepath.Base(inputKey))
}

// ResultPath derives the worker's result file from the input path:
// sample.vcf becomes sample.annot.vcf.
func ResultPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	return strings.TrimSuffix(inputPath, ext) + ".annot" + ext
}

// LogPath derives the worker's log file from the input path.
func LogPath(inputPath string) string {
	return inputPath + ".log"
}

// Launch starts the worker on inputPath and returns once the child is
// running. onExit is invoked from a monitor goroutine with the final
// success/failure; it is called exactly once per successful Launch.
func (l *Launcher) Launch(jobID, inputPath string, onExit func(jobID string, success bool)) error {
	jobDir := l.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	stdoutFile, err := os.Create(filepath.Join(jobDir, "stdout.log"))
	if err != nil {
		return fmt.Errorf("create stdout log: %w", err)
	}
	stderrFile, err := os.Create(filepath.Join(jobDir, "stderr.log"))
	if err != nil {
		_ = stdoutFile.Close()
		return fmt.Errorf("create stderr log: %w", err)
	}

	cmd := exec.Command(l.command, inputPath)
	cmd.Dir = jobDir
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return fmt.Errorf("start worker: %w", err)
	}

	l.logger.Info("worker launched",
		zap.String("job_id", jobID),
		zap.String("input", inputPath),
		zap.Int("pid", cmd.Process.Pid))

	go func() {
		werr := cmd.Wait()
		_ = stdoutFile.Close()
		_ = stderrFile.Close()

		if werr != nil {
			l.logger.Warn("worker exited non-zero",
				zap.String("job_id", jobID), zap.Error(werr))
		}
		onExit(jobID, werr == nil)
	}()

	return nil
}
