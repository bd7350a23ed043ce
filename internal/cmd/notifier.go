package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/annexlab/annex/internal/notifier"
	"github.com/annexlab/annex/pkg/jobstore"
	"github.com/annexlab/annex/pkg/notify"
	"github.com/annexlab/annex/pkg/queue"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Run the completion-email daemon",
	Long: `Poll the results queue and email each job owner a link to their
completed annotation.`,
	RunE: runNotifier,
}

func init() {
	rootCmd.AddCommand(notifierCmd)
}

func runNotifier(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	defer func() { _ = rt.logger.Sync() }()

	if rt.cfg.Email.Sender == "" {
		return exitError(foundry.ExitInvalidArgument, "email.sender is required", nil)
	}

	n := notifier.New(
		jobstore.NewProfileStore(rt.dynamodb, rt.cfg.Tables.Profiles),
		notify.NewMailer(rt.ses, rt.cfg.Email.Sender),
		rt.cfg.Email.LinkBase,
		rt.logger,
	)

	consumer := queue.NewConsumer(rt.sqs, rt.queueConfig(rt.cfg.Queues.Results), rt.logger)

	rt.logger.Info("notifier started", zap.String("queue", rt.cfg.Queues.Results))
	if err := consumer.Run(ctx, n.HandleMessage); err != nil && ctx.Err() == nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Notifier loop failed", err)
	}
	rt.logger.Info("notifier stopped")
	return nil
}
