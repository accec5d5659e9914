package main

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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/gatehouse-auth/gatehouse/internal/account"
	"github.com/gatehouse-auth/gatehouse/internal/app"
	"github.com/gatehouse-auth/gatehouse/internal/audit"
	"github.com/gatehouse-auth/gatehouse/internal/authn"
	"github.com/gatehouse-auth/gatehouse/internal/authz"
	"github.com/gatehouse-auth/gatehouse/internal/credential"
	"github.com/gatehouse-auth/gatehouse/internal/directory"
	"github.com/gatehouse-auth/gatehouse/internal/events"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
	"github.com/gatehouse-auth/gatehouse/internal/platform/cache"
	"github.com/gatehouse-auth/gatehouse/internal/platform/db"
	"github.com/gatehouse-auth/gatehouse/internal/session"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
	"github.com/gatehouse-auth/gatehouse/internal/token"
	"github.com/gatehouse-auth/gatehouse/jobs"
)

// queueMailer delivers reset instructions through the job queue.
type queueMailer struct {
	client *jobs.Client
}

func (m queueMailer) SendResetInstructions(ctx context.Context, email, resetToken string) error {
	_, err := m.client.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      email,
		Subject: "Password reset instructions",
		Body:    fmt.Sprintf("Use this token to reset your password: %s", resetToken),
	})
	return err
}

func (m queueMailer) SendConfirmationInstructions(ctx context.Context, email, confirmToken string) error {
	_, err := m.client.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      email,
		Subject: "Please confirm your email",
		Body:    fmt.Sprintf("Use this token to confirm your email address: %s", confirmToken),
	})
	return err
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionStore := shared.NewSessionStore(redisClient, "gatehouse_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	rememberWithin, _ := cfg.RememberWindow()
	resetWithin, _ := cfg.ResetWindow()
	confirmWithin, _ := cfg.ConfirmWindow()

	passwords := credential.NewCodec(cfg.PasswordSalt, cfg.PasswordHMAC)
	tokens := token.NewCodec(cfg.SecretKey, token.Options{
		AuthSalt:       cfg.AuthSalt,
		RememberSalt:   cfg.RememberSalt,
		ResetSalt:      cfg.ResetSalt,
		ConfirmSalt:    cfg.ConfirmSalt,
		RememberWithin: rememberWithin,
		ResetWithin:    resetWithin,
		ConfirmWithin:  confirmWithin,
	})

	bus := events.NewBus(logger)
	metrics := observability.NewMetrics()

	dir := directory.NewStore(pool)
	manager := directory.NewManager(dir, passwords, cfg.DefaultRoles)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	recorder := audit.NewRecorder(pool, logger)
	audit.BindBus(bus, jobClient, logger)

	engine := authn.NewEngine(dir, passwords, tokens, bus, metrics, logger, authn.Config{
		TokenHeader:      cfg.TokenHeader,
		TokenParam:       cfg.TokenParam,
		DefaultRealm:     cfg.HTTPAuthRealm,
		RequireConfirmed: cfg.Confirmable,
	})
	sessions := session.NewManager(dir, tokens, sessionStore, bus, cfg.Trackable, logger)
	accountService := account.NewService(dir, manager, passwords, tokens, bus, queueMailer{client: jobClient}, logger,
		account.ServiceConfig{Confirmable: cfg.Confirmable})
	accountHandler := account.NewHandler(logger, engine, sessions, accountService, metrics, account.HandlerConfig{
		PostLoginView: cfg.PostLoginView,
		FlashEnabled:  cfg.FlashMessages,
	})

	authorizer := authz.Authorizer{
		Logger:           logger,
		LoginView:        "/auth",
		UnauthorizedView: cfg.UnauthorizedView,
		FlashEnabled:     cfg.FlashMessages,
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionStore:   sessionStore,
		CSRFManager:    csrfManager,
		Directory:      dir,
		Sessions:       sessions,
		Engine:         engine,
		Authorizer:     authorizer,
		AccountHandler: accountHandler,
		AuditRecorder:  recorder,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
