package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/annexlab/annex/internal/lifecycle"
	"github.com/annexlab/annex/internal/worker"
	"github.com/annexlab/annex/pkg/jobstore"
	"github.com/annexlab/annex/pkg/notify"
	"github.com/annexlab/annex/pkg/objectstore"
	"github.com/annexlab/annex/pkg/queue"
)

var annotatorCmd = &cobra.Command{
	Use:   "annotator",
	Short: "Run the annotation lifecycle daemon",
	Long: `Poll the job-request queue, drive jobs from PENDING to COMPLETED or
FAILED, and publish completion events to the results topic.

The annotation worker itself is an external executable configured via
worker.command; it is launched detached, one process per job.`,
	RunE: runAnnotator,
}

func init() {
	rootCmd.AddCommand(annotatorCmd)
}

func runAnnotator(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	defer func() { _ = rt.logger.Sync() }()

	if rt.cfg.Worker.Command == "" {
		return exitError(foundry.ExitInvalidArgument, "worker.command is required", nil)
	}
	if rt.cfg.Queues.Requests == "" {
		return exitError(foundry.ExitInvalidArgument, "queues.requests is required", nil)
	}

	manager := lifecycle.New(
		lifecycle.Config{
			ResultsBucket: rt.cfg.Buckets.Results,
			ResultsTopic:  rt.cfg.Topics.Results,
			KeyPrefix:     rt.cfg.Worker.KeyPrefix,
		},
		jobstore.New(rt.dynamodb, rt.cfg.Tables.Annotations),
		objectstore.New(rt.s3),
		notify.NewPublisher(rt.sns),
		worker.NewLauncher(rt.cfg.Worker.Command, rt.cfg.Worker.JobsDir, rt.logger),
		rt.logger,
	)

	consumer := queue.NewConsumer(rt.sqs, rt.queueConfig(rt.cfg.Queues.Requests), rt.logger)

	rt.logger.Info("annotator started",
		zap.String("queue", rt.cfg.Queues.Requests),
		zap.String("worker", rt.cfg.Worker.Command))

	if err := consumer.Run(ctx, manager.HandleRequest); err != nil && ctx.Err() == nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Annotator loop failed", err)
	}
	rt.logger.Info("annotator stopped")
	return nil
}
