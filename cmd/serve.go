package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-attendance/internal/attendance"
	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/database/postgres"
	"github.com/kozaktomas/smart-attendance/internal/notify"
	"github.com/kozaktomas/smart-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Smart Attendance API server.
Classes log in with their class code, enroll users from camera captures and
mark attendance with a blink-gated face match.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (env WEB_PORT, default 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (env WEB_HOST, default 0.0.0.0)")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (env WEB_SESSION_SECRET, defaults to random)")
}

// applyServeFlags lets explicit flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = mustGetString(cmd, "host")
	}
	if secret := mustGetString(cmd, "session-secret"); secret != "" {
		cfg.Web.SessionSecret = secret
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyServeFlags(cmd, cfg)

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	opts, err := attendance.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid attendance settings: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("connecting to PostgreSQL")
	pool, err := postgres.Initialize(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	pipe, err := loadPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	if !cfg.SMTP.Enabled() {
		logger.Info("email notifications disabled, SENDER_EMAIL or SENDER_PASSWORD not set")
	}
	service := attendance.NewService(
		pipe.encoder,
		pipe.blink,
		postgres.NewIdentityRepository(pool),
		postgres.NewAttendanceRepository(pool),
		notify.New(cfg.SMTP, logger),
		opts,
		logger,
	)

	server := web.NewServer(cfg, web.Dependencies{
		Service:  service,
		Blink:    pipe.blink,
		Still:    pipe.still,
		Tenants:  postgres.NewTenantRepository(pool),
		Sessions: postgres.NewSessionRepository(pool),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown requested")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
