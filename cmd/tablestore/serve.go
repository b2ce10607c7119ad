package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"tablestore/internal/auth"
	"tablestore/internal/config"
	"tablestore/internal/httpapi"
	"tablestore/internal/logging"
	"tablestore/internal/model"
	"tablestore/internal/session"
	"tablestore/internal/store"
	"tablestore/internal/store/memory"
	"tablestore/internal/store/postgres"
	"tablestore/internal/store/sqlite"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions, out io.Writer) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	tables, err := cfg.TableSet()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, tables, log)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, closeSessions, err := openSessions(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	tokens, err := auth.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	if cfg.Auth.TokenSecret == "" {
		log.Warn(ctx, "no token secret configured, bearer tokens will not survive a restart")
	}
	authSvc := auth.NewService(st, sessions, tokens, log.With("component", "auth"), auth.Options{
		SessionTTL:    cfg.Session.TTL,
		BcryptCost:    cfg.Auth.BcryptCost,
		LoginBurst:    cfg.Auth.LoginBurst,
		LoginInterval: cfg.Auth.LoginInterval,
	})

	srv, err := httpapi.NewServer(cfg, st, authSvc, log.With("component", "http"))
	if err != nil {
		return err
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	if sweeper, ok := sessions.(sessionSweeper); ok && cfg.Session.SweepInterval > 0 {
		go runSessionSweepLoop(loopCtx, sweeper, cfg.Session.SweepInterval, log)
	}

	// No WriteTimeout: the change stream holds responses open.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	httpServer.RegisterOnShutdown(srv.CloseStreams)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", "addr", cfg.ListenAddr(), "tables", len(tables.Tables()))
		fmt.Fprintf(out, "tablestore listening on %s\n", cfg.ListenAddr())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	cancelLoops()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Warn(ctxShutdown, "shutdown", "err", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, tables model.TableSet, log logging.Logger) (store.Store, error) {
	switch driver := cfg.StorageDriver(); driver {
	case "postgres":
		n, err := postgres.Migrate(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pg, err := postgres.NewStore(cfg.Storage.DatabaseURL, tables)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		log.Info(ctx, "using postgres store", "migrations_applied", n)
		return pg, nil
	case "sqlite":
		lite, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, tables)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info(ctx, "using sqlite store", "path", cfg.Storage.SQLitePath)
		return lite, nil
	case "memory":
		log.Info(ctx, "using memory store")
		return memory.NewStore(tables), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func openSessions(ctx context.Context, cfg config.Config, log logging.Logger) (session.Store, func(), error) {
	if cfg.Session.Backend == "redis" {
		client, err := session.DialRedis(ctx, cfg.Session.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info(ctx, "using redis sessions")
		return session.NewRedisStore(client, ""), func() { _ = client.Close() }, nil
	}
	log.Info(ctx, "using memory sessions")
	return session.NewMemoryStore(), func() {}, nil
}

type sessionSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func runSessionSweepLoop(ctx context.Context, sweeper sessionSweeper, interval time.Duration, log logging.Logger) {
	runOnce := func() {
		ctxSweep, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		n, err := sweeper.Sweep(ctxSweep)
		if err != nil {
			log.Warn(ctx, "session sweep failed", "err", err)
			return
		}
		if n > 0 {
			log.Debug(ctx, "expired sessions swept", "count", n)
		}
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runOnce()
		}
	}
}
