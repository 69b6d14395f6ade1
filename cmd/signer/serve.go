package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"signing-relay/config"
	httpHandler "signing-relay/internal/adapter/http/handler"
	pgStorage "signing-relay/internal/adapter/storage/postgres"
	redisStorage "signing-relay/internal/adapter/storage/redis"
	"signing-relay/internal/adapter/tcp"
	"signing-relay/internal/core/ports"
	"signing-relay/internal/service"
	"signing-relay/pkg/logger"

	"github.com/rs/zerolog"
)

const adminShutdownTimeout = 10 * time.Second

// runServe opens the vault and serves signatures until ctx is cancelled.
// When no vault exists it provisions one and returns without serving.
func runServe(ctx context.Context, cfg *config.Config, prompter ports.PasswordPrompter, out io.Writer, log zerolog.Logger) error {
	log.Info().
		Str("vault", cfg.Vault.Path).
		Str("addr", cfg.Signer.Addr()).
		Str("framing", cfg.Signer.Framing).
		Strs("allowlist", cfg.Signer.Allowlist).
		Msg("Starting signing relay")

	boot := service.NewVaultBootstrap(service.NewVaultService(), prompter, logger.Component(log, "vault"))
	secret, provisioned, err := boot.LoadOrProvision(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	if provisioned {
		fmt.Fprintf(out, "Vault written to %s. Relaunch the signer and enter the password to start serving.\n", cfg.Vault.Path)
		return nil
	}

	signer := service.NewHMACSigner(secret)
	defer signer.Close()

	allowlist, err := tcp.ParseAllowlist(cfg.Signer.Allowlist)
	if err != nil {
		return err
	}
	if allowlist.Len() == 0 {
		log.Warn().Msg("signer allowlist is empty, every connection will be rejected")
	}
	framing, err := tcp.ParseFraming(cfg.Signer.Framing)
	if err != nil {
		return err
	}

	var (
		auditRepo ports.AuditRepository
		limiter   ports.RateLimiter
		checkers  []ports.HealthChecker
	)

	if cfg.Database.Enabled {
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()
		if err := pgStorage.Migrate(ctx, pool); err != nil {
			return err
		}
		auditRepo = pgStorage.NewAuditRepository(pool)
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
	}

	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		limiter = redisStorage.NewRateLimitStore(rdb)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	}
	if cfg.Signer.RateLimit > 0 && limiter == nil {
		log.Warn().Int64("rate_limit", cfg.Signer.RateLimit).Msg("signer.rate_limit needs redis, rate limiting disabled")
	}

	auditFile, err := service.NewAuditFileWriter(cfg.Audit.Dir, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, time.Now())
	if err != nil {
		return err
	}
	audit := service.NewAuditService(auditFile, auditRepo, logger.Component(log, "audit"))
	defer func() {
		if err := audit.Close(); err != nil {
			log.Error().Err(err).Msg("closing audit log")
		}
	}()

	server := tcp.NewServer(tcp.ServerConfig{
		Allowlist:      allowlist,
		Framing:        framing,
		MaxMessageSize: cfg.Signer.MaxMessageSize,
		ReadTimeout:    cfg.Signer.ReadTimeout,
		WriteTimeout:   cfg.Signer.WriteTimeout,
		FailureBackoff: cfg.Signer.FailureBackoff,
		RateLimit:      cfg.Signer.RateLimit,
		RateWindow:     cfg.Signer.RateWindow,
	}, signer, audit, limiter, logger.Component(log, "signer"))

	if cfg.Admin.Enabled {
		var auditReader httpHandler.AuditReader = service.NewAuditFileReader(auditFile.Filename)
		if auditRepo != nil {
			auditReader = auditRepo
		}
		adminAllow, err := tcp.ParseAllowlist(cfg.Admin.Allowlist)
		if err != nil {
			return fmt.Errorf("admin allowlist: %w", err)
		}

		router := httpHandler.SetupRouter(httpHandler.RouterDeps{
			Stats:          server,
			Audit:          auditReader,
			Allowlist:      adminAllow,
			RateLimiter:    limiter,
			HealthCheckers: checkers,
			Logger:         logger.Component(log, "admin"),
		})
		stopAdmin := startAdmin(cfg.Admin.Addr(), router, log)
		defer stopAdmin()
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Signer.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Signer.Addr(), err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("Signing service listening")

	if err := server.Serve(ctx, ln); err != nil {
		return err
	}

	st := server.Stats()
	log.Info().
		Uint64("served", st.Served).
		Uint64("rejected", st.Rejected).
		Uint64("failed", st.Failed).
		Msg("Signing service stopped")
	return nil
}

// startAdmin serves the admin API in the background and returns a function
// that shuts it down.
func startAdmin(addr string, handler http.Handler, log zerolog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Admin HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin HTTP server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Admin server forced to shutdown")
		}
	}
}
