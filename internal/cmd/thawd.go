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

	"github.com/annexlab/annex/internal/server"
	"github.com/annexlab/annex/internal/server/handlers"
	"github.com/annexlab/annex/internal/thaw"
	"github.com/annexlab/annex/pkg/coldvault"
	"github.com/annexlab/annex/pkg/jobstore"
)

var thawdCmd = &cobra.Command{
	Use:   "thawd",
	Short: "Serve the thaw subscription endpoint",
	Long: `Serve POST /thaw for the tier-upgrade fan-out topic. Each upgrade
event initiates retrieval of every archived result the user owns, expedited
tier first with a single standard-tier fallback.`,
	RunE: runThawd,
}

var thawdPort int

func init() {
	rootCmd.AddCommand(thawdCmd)
	thawdCmd.Flags().IntVar(&thawdPort, "port", 0, "Override server port")
}

func runThawd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	defer func() { _ = rt.logger.Sync() }()

	if thawdPort != 0 {
		rt.cfg.Server.Port = thawdPort
	}

	manager := thaw.New(
		jobstore.New(rt.dynamodb, rt.cfg.Tables.Annotations),
		jobstore.NewRetrievalStore(rt.dynamodb, rt.cfg.Tables.Retrievals),
		coldvault.New(rt.glacier, rt.cfg.Vault.Name, rt.cfg.Topics.Retrievals),
		rt.logger,
	)

	ingest := handlers.NewIngest(nil, manager,
		handlers.HTTPConfirmer(&http.Client{Timeout: 10 * time.Second}), rt.logger)

	srv := server.New(rt.cfg.Server, "thawd", rt.logger)
	srv.Router().Post("/thaw", ingest.Thaw)

	rt.logger.Info("thawd started", zap.Int("port", rt.cfg.Server.Port))
	if err := srv.Run(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Thaw server failed", err)
	}
	return nil
}
