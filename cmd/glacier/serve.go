package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cnc5/glacier/pkg/api"
	"github.com/cnc5/glacier/pkg/auth"
	"github.com/cnc5/glacier/pkg/config"
	"github.com/cnc5/glacier/pkg/events"
	"github.com/cnc5/glacier/pkg/log"
	"github.com/cnc5/glacier/pkg/metrics"
	"github.com/cnc5/glacier/pkg/render"
	"github.com/cnc5/glacier/pkg/scheduler"
	"github.com/cnc5/glacier/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the render farm backend",
	Long: `Run the Glacier backend: connect to the database, start the task
scheduler, and serve the HTTP API.

All configuration comes from the process environment (DB_HOST, DB_PORT,
DB_NAME, DB_USER, DB_PASS, UPLOAD_FACILITY, BLENDER_BIN).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")

		log.Init(log.Config{
			Level:      log.Level(logLevel),
			JSONOutput: jsonLogs,
		})
		metrics.SetVersion(Version)

		dbCfg, err := config.LoadDatabase()
		if err != nil {
			return err
		}
		renderCfg, err := config.LoadRender()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(renderCfg.UploadFacility, 0o755); err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}

		store, err := storage.NewPostgresStore(dbCfg)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		metrics.RegisterComponent("store", true, "")

		broker := events.NewBroker()
		broker.Start()
		go logEvents(broker.Subscribe())

		registry := render.NewRegistry()
		authMgr := auth.NewManager(store, registry, broker, renderCfg)

		// Supervisors do not survive a restart; persisted tasks still in
		// flight are unrecoverable and are marked failed up front.
		if err := authMgr.RecoverOrphans(); err != nil {
			return fmt.Errorf("failed to recover orphaned tasks: %w", err)
		}

		sched := scheduler.NewScheduler(registry)
		sched.Start()
		metrics.RegisterComponent("scheduler", true, "")

		collector := metrics.NewCollector(store)
		collector.Start()

		server := api.NewServer(authMgr, store, registry)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(listenAddr); err != nil {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			log.Errorf("api server failed", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Errorf("failed to stop api server", err)
		}
		sched.Stop()
		collector.Stop()
		broker.Stop()
		if err := store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", ":8888", "Address for the HTTP API")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("json-logs", false, "Emit JSON logs instead of console output")
}

// logEvents mirrors the broker onto the log stream
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		logger.Info().
			Str("type", string(event.Type)).
			Str("task_id", event.TaskID).
			Str("session_id", event.SessionID).
			Str("state", string(event.State)).
			Msg("event")
	}
}
