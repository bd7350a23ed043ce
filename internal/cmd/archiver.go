package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/annexlab/annex/internal/archive"
	"github.com/annexlab/annex/internal/server"
	"github.com/annexlab/annex/internal/server/handlers"
	"github.com/annexlab/annex/pkg/coldvault"
	"github.com/annexlab/annex/pkg/jobstore"
	"github.com/annexlab/annex/pkg/objectstore"
)

var archiverCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Serve the archive subscription endpoint",
	Long: `Serve POST /archive for the results fan-out topic. Completion events
for free-tier jobs move the result artifact into the cold vault; premium jobs
pass through untouched.`,
	RunE: runArchiver,
}

var archiverPort int

func init() {
	rootCmd.AddCommand(archiverCmd)
	archiverCmd.Flags().IntVar(&archiverPort, "port", 0, "Override server port")
}

func runArchiver(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	defer func() { _ = rt.logger.Sync() }()

	if archiverPort != 0 {
		rt.cfg.Server.Port = archiverPort
	}

	manager := archive.New(
		jobstore.New(rt.dynamodb, rt.cfg.Tables.Annotations),
		objectstore.New(rt.s3),
		coldvault.New(rt.glacier, rt.cfg.Vault.Name, rt.cfg.Topics.Retrievals),
		rt.logger,
	)

	ingest := handlers.NewIngest(manager, nil,
		handlers.HTTPConfirmer(&http.Client{Timeout: 10 * time.Second}), rt.logger)

	srv := server.New(rt.cfg.Server, "archiver", rt.logger)
	srv.Router().Post("/archive", ingest.Archive)

	rt.logger.Info("archiver started", zap.Int("port", rt.cfg.Server.Port))
	if err := srv.Run(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Archiver server failed", err)
	}
	return nil
}
