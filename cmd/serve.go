package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"ibstudy-server/ai"
	"ibstudy-server/db"
	"ibstudy-server/middleware"
	"ibstudy-server/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and its background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := db.InitDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("unable to connect to database: %w", err)
		}
		defer pool.Close()

		if err := db.CreateSchema(pool); err != nil {
			return fmt.Errorf("error creating database schema: %w", err)
		}

		gin.SetMode(cfg.GinMode)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sender, err := notify.NewSender(ctx, cfg.Email)
		if err != nil {
			return err
		}

		deps := routerDeps{
			AI: ai.NewService(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.TimeoutSeconds),
			APILimiter: middleware.NewRateLimiter(func() int {
				return db.GetSettingInt(pool, "rate_limit_api_per_hour", 300)
			}, time.Hour),
			AdminLimiter: middleware.NewRateLimiter(func() int {
				return db.GetSettingInt(pool, "rate_limit_admin_per_hour", 100)
			}, time.Hour),
			PlanLookup: func(ctx context.Context, userID string) (string, error) {
				u, err := db.GetUserByID(ctx, pool, userID)
				return u.Plan, err
			},
		}
		router := newRouter(cfg, pool, deps)

		go runDigestJob(ctx, pool, sender, cfg.DigestInterval)
		go runLimiterCleanup(ctx, time.Hour, deps.APILimiter, deps.AdminLimiter)

		srv := &http.Server{
			Addr:    cfg.ServerPort,
			Handler: router,
		}

		go func() {
			<-ctx.Done()
			log.Println("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Server forced to shutdown: %v", err)
			}
		}()

		log.Printf("IB study server starting on %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server startup error: %w", err)
		}
		log.Println("Server exited gracefully.")
		return nil
	},
}

// runDigestJob sends the study digest every interval until ctx is done.
func runDigestJob(ctx context.Context, pool *pgxpool.Pool, sender notify.Sender, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			log.Println("Running scheduled study digest...")
			if err := notify.RunDigest(ctx, pool, sender, now); err != nil {
				log.Printf("Error during study digest: %v", err)
				db.LogAdminEvent(pool, "system", "digest_failed", "all_users", fmt.Sprintf("Error: %v", err))
				continue
			}
			db.LogAdminEvent(pool, "system", "digest_success", "all_users", "Study digest completed.")
		}
	}
}

func runLimiterCleanup(ctx context.Context, every time.Duration, limiters ...*middleware.RateLimiter) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range limiters {
				l.Cleanup()
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
