package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/annexlab/annex/internal/restore"
	"github.com/annexlab/annex/pkg/coldvault"
	"github.com/annexlab/annex/pkg/jobstore"
	"github.com/annexlab/annex/pkg/objectstore"
	"github.com/annexlab/annex/pkg/queue"
)

var restorerCmd = &cobra.Command{
	Use:   "restorer",
	Short: "Run the restore daemon",
	Long: `Poll the retrieval-completion queue fed by the cold vault's
notification topic and land each thawed result back at its original location
in the results bucket.`,
	RunE: runRestorer,
}

func init() {
	rootCmd.AddCommand(restorerCmd)
}

func runRestorer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	defer func() { _ = rt.logger.Sync() }()

	if rt.cfg.Queues.Retrievals == "" {
		return exitError(foundry.ExitInvalidArgument, "queues.retrievals is required", nil)
	}

	manager := restore.New(
		jobstore.New(rt.dynamodb, rt.cfg.Tables.Annotations),
		jobstore.NewRetrievalStore(rt.dynamodb, rt.cfg.Tables.Retrievals),
		objectstore.New(rt.s3),
		coldvault.New(rt.glacier, rt.cfg.Vault.Name, rt.cfg.Topics.Retrievals),
		rt.logger,
	)

	consumer := queue.NewConsumer(rt.sqs, rt.queueConfig(rt.cfg.Queues.Retrievals), rt.logger)

	rt.logger.Info("restorer started", zap.String("queue", rt.cfg.Queues.Retrievals))
	if err := consumer.Run(ctx, manager.HandleMessage); err != nil && ctx.Err() == nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Restorer loop failed", err)
	}
	rt.logger.Info("restorer stopped")
	return nil
}
