package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sessionbroker/broker/internal/adapter"
	brokerconfig "github.com/sessionbroker/broker/internal/config"
	"github.com/sessionbroker/broker/internal/gateway"
	"github.com/sessionbroker/broker/internal/launcher"
	"github.com/sessionbroker/broker/internal/logging"
	"github.com/sessionbroker/broker/internal/manager"
	"github.com/sessionbroker/broker/internal/permission"
	"github.com/sessionbroker/broker/internal/registry"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/internal/storage"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session broker",
	Long:  `Start brokerd as a long-running daemon, listening for consumer and backend-dialback connections.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "working directory for project-local config")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := getWorkDir(serveDir)
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}

	// .env, if present, is loaded before anything reads the environment
	// (provider API keys, BROKER_PORT); a missing file is not an error.
	_ = godotenv.Load()

	paths := brokerconfig.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	cfg, err := brokerconfig.Load(workDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = paths.StoragePath()
	}

	store := storage.NewSessionStorage(cfg.DataDir)
	repo := session.NewRepository(store, cfg.MaxMessageHistoryLength)
	reg := registry.New(store)
	caps := session.NewCapabilitiesPolicy(5 * time.Second)
	compaction := session.NewCompactionPolicy(0.8)
	perms := permission.NewBridge(120 * time.Second)

	l := launcher.New()
	adapters := adapter.New(l, cfg.ProviderConfig)

	// broadcaster and manager reference each other (the broadcaster
	// detaches dead sockets through the manager's tracked runtimes; the
	// manager sends through the broadcaster), so the broadcaster is
	// built empty and bound to mgr right after mgr exists.
	broadcaster := gateway.NewBroadcaster()
	router := session.NewRouter(repo, broadcaster, caps)

	mgr := manager.New(cfg, repo, reg, adapters, l, broadcaster, perms, router, caps, compaction)
	broadcaster.SetManager(mgr)

	if restored, err := mgr.RestoreAll(context.Background()); err != nil {
		logging.Error().Err(err).Msg("session restore failed")
	} else if restored > 0 {
		logging.Info().Int("count", restored).Msg("restored sessions from registry")
	}

	mgr.Start(context.Background())

	gw := gateway.New(cfg, mgr, nil)
	hub := gateway.NewTransportHub(mgr)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: gateway.Router(cfg, mgr, gw, hub),
	}

	go func() {
		logging.Info().Int("port", cfg.Port).Msg("brokerd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("http server shutdown error")
	}
	mgr.Shutdown(shutdownCtx)
	adapters.Shutdown(shutdownCtx)

	logging.Info().Msg("brokerd stopped")
	return nil
}
