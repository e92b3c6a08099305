package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calsync/synclog"
	"calsync/watch"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Service string `json:"service"`
}

const VERSION = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "calsync",
		Short: "One-way sync from a source Google calendar to a target calendar",
		Long: `calsync mirrors surgeries, blocked days and info notes from a source
calendar into a target calendar. Surgery titles are masked, and only
events calsync created are ever deleted from the target.

Examples:
  calsync                      # same as "calsync serve"
  calsync serve                # HTTP API and cron scheduler
  calsync sync --trigger auto  # one pass, prints the JSON result`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newSyncCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the auto-sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newSyncCmd() *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			app, err := NewApp(ctx, RuntimeConfigFromEnv())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Syncer.Run(ctx, synclog.ParseTrigger(trigger))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", string(synclog.TriggerManual), "run trigger recorded in the logs (manual|auto)")
	return cmd
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log.Println("Starting calsync server...")

	cfg := RuntimeConfigFromEnv()
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	var scheduler *Scheduler
	if cfg.CronEnabled {
		scheduler, err = NewScheduler(app.Syncer, cfg.CronSpec, cfg.Location())
		if err != nil {
			return err
		}
		scheduler.Start()
		log.Printf("scheduler: auto sync %q in %s", cfg.CronSpec, cfg.Location())
	} else {
		log.Println("scheduler: disabled by SYNC_CRON_ENABLED")
	}

	renewCtx, stopRenewer := context.WithCancel(ctx)
	defer stopRenewer()
	switch {
	case app.Watch == nil:
		log.Println("watch: push notifications disabled without Redis")
	case cfg.WebhookURL == "":
		log.Println("watch: CALENDAR_WEBHOOK_URL not set, register via /calendar/webhook/register")
	case !cfg.WebhookRenewEnabled:
		log.Println("watch: channel renewal disabled by CALENDAR_WEBHOOK_RENEW_ENABLED")
	default:
		watch.NewRenewer(app.Watch, cfg.SourceCalendarID, cfg.WebhookURL, cfg.WebhookRenewInterval, cfg.WebhookRenewThreshold).Start(renewCtx)
	}

	srv := &http.Server{
		Handler:      newRouter(app),
		Addr:         "0.0.0.0:" + cfg.Port,
		WriteTimeout: 180 * time.Second,
		ReadTimeout:  180 * time.Second,
	}

	log.Printf("calsync v%s starting on %s", VERSION, srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	}
	log.Println("Shutting down server...")

	stopRenewer()
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func newRouter(app *App) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthHandler).Methods("GET")
	registerSyncRoutes(r, app.Syncer, app.Store)
	registerFeedRoutes(r, app.Bus)
	NewGoogleAuthHandler(app.Tokens, oauthAccount, app.Config.ServiceAccount.Configured()).RegisterRoutes(r)
	NewCalendarWebhookHandler(app.Watch, app.Syncer, app.Config.SourceCalendarID, app.Config.WebhookURL).RegisterRoutes(r)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := HealthResponse{
		OK:      true,
		Version: VERSION,
		Service: "calsync",
	}

	json.NewEncoder(w).Encode(response)
}
