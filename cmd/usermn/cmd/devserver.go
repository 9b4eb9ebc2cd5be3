package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/sangram0022/user-mn-go/devserver"
)

var (
	port           int
	accessTokenTTL time.Duration
	csrfTokenTTL   time.Duration
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run the in-memory development backend",
	Long: `Starts a local user-management backend with seeded accounts
(admin@example.com / admin-password, root@example.com / root-password,
user@example.com / user-password). All state lives in memory and is
lost on exit. API docs are served at /api/v1/docs, Prometheus metrics
at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		srv, err := devserver.New(
			devserver.WithLogger(logger),
			devserver.WithAccessTokenTTL(accessTokenTTL),
			devserver.WithCSRFTokenTTL(csrfTokenTTL),
		)
		if err != nil {
			return fmt.Errorf("initializing dev server: %w", err)
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api/v1", srv.Router())
		r.Handle("/metrics", srv.MetricsHandler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		fmt.Printf("usermn dev server %s listening on :%d (docs at /api/v1/docs)\n", Version, port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	devserverCmd.Flags().DurationVar(&accessTokenTTL, "access-token-ttl", 15*time.Minute, "Issued access-token lifetime")
	devserverCmd.Flags().DurationVar(&csrfTokenTTL, "csrf-token-ttl", time.Hour, "Issued CSRF-token lifetime")
}
