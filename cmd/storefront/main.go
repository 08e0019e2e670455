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

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storefront/internal/app/commands"
	chatapp "storefront/internal/app/handlers/chat"
	"storefront/internal/app/middleware"
	"storefront/internal/app/notify"
	"storefront/internal/app/queries"
	authsvc "storefront/internal/app/services/auth"
	domainuser "storefront/internal/domain/user"
	"storefront/internal/infra/config"
	"storefront/internal/infra/grpchealth"
	ginserver "storefront/internal/infra/http/gin"
	"storefront/internal/infra/obs"
	"storefront/internal/infra/realtime"
	"storefront/internal/infra/security"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "storefront:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := obs.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	if cfg.InstanceID == "" {
		cfg.InstanceID = instanceID()
	}

	shutdownTracing, err := obs.SetupTracing(ctx, "storefront", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close(logger)

	if err := seedUsers(ctx, stores.users, fixturesPath(cfg.FixturesPath), logger); err != nil {
		logger.Warn("user fixtures load failed", "error", err)
	}

	hub := realtime.NewHub(logger)
	defer hub.Close()

	transport, err := openTransport(ctx, cfg, hub, logger)
	if err != nil {
		return err
	}
	defer transport.close(logger)

	dispatcher := notify.NewDispatcher(transport.publisher, transport.retrier, logger, notify.DispatcherConfig{
		PublishTimeout: cfg.Notify.PublishTimeout,
		Concurrency:    cfg.Notify.Concurrency,
	})

	app, err := buildApplication(cfg, stores, dispatcher, hub, logger)
	if err != nil {
		return err
	}

	health := obs.HealthHandlers{Checks: stores.checks, Timeout: 2 * time.Second}
	for name, check := range transport.checks {
		health.Checks[name] = check
	}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, health, app.handlers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "notify", cfg.NotifyBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("pending notifications abandoned", "error", err)
		}
		return nil
	})
	for _, runner := range transport.runners {
		g.Go(func() error { return runner(gctx) })
	}
	if cfg.GRPCHealth != "" {
		hs := grpchealth.New(cfg.GRPCHealth, health.Ready, 5*time.Second, logger)
		g.Go(func() error { return hs.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("storefront stopped")
	return err
}

type application struct {
	handlers ginserver.Handlers
}

func buildApplication(cfg config.Config, stores *storeSet, notifier notify.Notifier, hub *realtime.Hub, logger *slog.Logger) (application, error) {
	newID := func() string { return uuid.Must(uuid.NewV7()).String() }

	directory := &chatapp.Directory{
		Store:    stores.chat,
		Users:    stores.users,
		Notifier: notifier,
		NewID:    newID,
		Now:      time.Now,
		Logger:   logger,
	}

	uploader, err := openUploader(cfg, logger)
	if err != nil {
		return application{}, err
	}

	cmdRegistry := commands.NewRegistry()
	queryRegistry := queries.NewRegistry()
	chatapp.Handlers{
		OpenSupport: &chatapp.OpenSupportConversationHandler{
			Directory: directory,
			Router: chatapp.SupportRouter{
				Users:          stores.users,
				PreferredAdmin: domainuser.ID(cfg.SupportAdminID),
			},
		},
		OpenDirect: &chatapp.OpenDirectConversationHandler{Directory: directory},
		PostMessage: &chatapp.PostMessageHandler{
			Store:    stores.chat,
			Users:    stores.users,
			Notifier: notifier,
			NewID:    newID,
			Now:      time.Now,
			Logger:   logger,
		},
		UploadAttachment: &chatapp.UploadAttachmentHandler{
			Directory: directory,
			Uploader:  uploader,
			MaxBytes:  cfg.S3.MaxUploadBytes,
		},
		ListMessages:      &chatapp.ListMessagesHandler{Store: stores.chat, Users: stores.users},
		ListConversations: &chatapp.ListConversationsHandler{Store: stores.chat, Users: stores.users},
	}.Register(cmdRegistry, queryRegistry)

	commandBus := middleware.ChainCommands(
		cmdRegistry,
		middleware.Tracing(),
		middleware.Validation(),
		middleware.Idempotency(stores.idempotency, nil, logger),
	)
	queryBus := middleware.ChainQueries(
		queryRegistry,
		middleware.QueryTracing(),
		middleware.QueryValidation(),
	)

	authService := &authsvc.Service{
		Users:      stores.users,
		Sessions:   stores.sessions,
		Passwords:  security.BcryptHasher{},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}

	var tickets *security.TicketIssuer
	secret := cfg.Realtime.TicketSecret
	if secret == "" {
		// Validate only lets an empty secret through in dev
		secret = uuid.NewString() + uuid.NewString()
		logger.Warn("REALTIME_TICKET_SECRET not set, using an ephemeral secret")
	}
	tickets, err = security.NewTicketIssuer(secret, cfg.Realtime.TicketTTL)
	if err != nil {
		return application{}, err
	}
	socketServer := realtime.NewServer(hub, directory, logger, realtime.ServerConfig{
		SendBuffer:     cfg.Realtime.SendBuffer,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	})

	return application{
		handlers: ginserver.Handlers{
			Auth: ginserver.AuthHandler{Service: authService, Logger: logger},
			Chat: ginserver.ChatHandler{
				Commands:       commandBus,
				Queries:        queryBus,
				Logger:         logger,
				MaxUploadBytes: cfg.S3.MaxUploadBytes,
			},
			Realtime:       ginserver.RealtimeHandler{Tickets: tickets, Server: socketServer, Logger: logger},
			Admin:          ginserver.AdminHandler{Users: stores.users, Logger: logger},
			AuthMiddleware: ginserver.AuthMiddleware{Service: authService, Logger: logger}.Handle,
		},
	}, nil
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()[:8]
}
