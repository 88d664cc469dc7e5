// Package app wires the configured services into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"matchbase.io/internal/attachment"
	"matchbase.io/internal/company"
	"matchbase.io/internal/config"
	"matchbase.io/internal/httpapi"
	"matchbase.io/internal/i18n"
	"matchbase.io/internal/identity"
	"matchbase.io/internal/notify"
	"matchbase.io/internal/session"
	"matchbase.io/internal/store/pg"
)

// App is the typed container built once at startup.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Store       *pg.Store
	Companies   *company.Service
	Attachments *attachment.Service
	Guard       *session.Guard
	API         *httpapi.API

	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *httpapi.GRPCHealth
}

// New builds every component. Nothing is dialed here; the first database
// round trip happens on the readiness probe or the first request.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database.DSN == "" {
		return nil, errors.New("app: database.dsn is required")
	}

	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}

	guard, err := newGuard(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sender, err := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, logger.Named("notify"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: smtp: %w", err)
	}

	companies, err := company.NewService(store,
		company.WithSender(sender),
		company.WithLogger(logger.Named("company")),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	storage, storagePing, err := newStorage(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	attachments, err := attachment.NewService(storage, store, companies, attachment.Config{
		MaxBytes:     cfg.Attachment.MaxBytes,
		ContentTypes: cfg.Attachment.ContentTypes,
		PresignTTL:   cfg.Storage.PresignedTTL,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	translator, err := i18n.New(cfg.I18n.Fallback)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	probe := httpapi.ReadyProbe{DB: store, Storage: storagePing}
	api, err := httpapi.New(httpapi.Deps{
		Guard:       guard,
		Companies:   companies,
		Attachments: attachments,
		Translator:  translator,
		Ready:       probe,
		Logger:      logger.Named("http"),
	},
		httpapi.WithVersion(cfg.Version),
		httpapi.WithLocal(cfg.IsLocal()),
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	grpcServer, grpcHealth := httpapi.NewGRPCServer(probe, logger.Named("grpc"))

	return &App{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Companies:   companies,
		Attachments: attachments,
		Guard:       guard,
		API:         api,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Handler(),
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			IdleTimeout:       cfg.HTTP.IdleTimeout,
		},
		grpcServer: grpcServer,
		grpcHealth: grpcHealth,
	}, nil
}

func newGuard(cfg *config.Config, logger *zap.Logger) (*session.Guard, error) {
	idc := cfg.Identity
	opts := []identity.VerifierOption{
		identity.WithIssuer(idc.Issuer),
		identity.WithAudience(idc.Audience),
	}
	switch {
	case idc.CertsURL != "":
		opts = append(opts, identity.WithKeySet(identity.NewRemoteKeySet(idc.CertsURL, &http.Client{Timeout: 10 * time.Second}, idc.KeysRefresh)))
	case idc.HMACSecret != "":
		opts = append(opts, identity.WithHMACSecret(idc.HMACSecret))
	case cfg.IsLocal():
		// Nothing verifies locally; tokens only pass through the emulator path.
		logger.Warn("identity: no verification key configured, using a throwaway secret")
		opts = append(opts, identity.WithHMACSecret(uuid.NewString()))
	default:
		return nil, errors.New("app: identity verification key is not configured")
	}
	verifier, err := identity.NewJWTVerifier(opts...)
	if err != nil {
		return nil, fmt.Errorf("app: identity verifier: %w", err)
	}

	var exchanger identity.Exchanger = identity.NoExchanger{}
	if idc.TokenURL != "" {
		exchanger, err = identity.NewRefreshExchanger(idc.TokenURL, idc.APIKey, idc.ExchangeTimeout)
		if err != nil {
			return nil, fmt.Errorf("app: identity exchanger: %w", err)
		}
	}

	cookies, err := session.NewCookies(session.CookieConfig{
		AccessName:  cfg.Cookie.AccessName,
		RefreshName: cfg.Cookie.RefreshName,
		Domain:      cfg.Cookie.Domain,
		Local:       cfg.IsLocal(),
		HashKey:     []byte(cfg.Cookie.HashKey),
		MaxAge:      cfg.Cookie.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("app: cookies: %w", err)
	}

	if idc.Emulator {
		logger.Warn("identity emulator mode enabled: access tokens are decoded without verification")
	}
	return session.NewGuard(verifier, exchanger, cookies,
		session.WithEmulator(idc.Emulator && cfg.IsLocal()),
		session.WithLogger(logger.Named("session")),
	), nil
}

// newStorage returns the S3 bucket, or an in-process store for local runs
// without an endpoint.
func newStorage(cfg *config.Config, logger *zap.Logger) (attachment.Storage, httpapi.Pinger, error) {
	sc := cfg.Storage
	if cfg.IsLocal() && sc.Endpoint == "" && sc.AccessKey == "" {
		logger.Warn("attachments are kept in memory; set storage.endpoint to use S3")
		return attachment.NewMemoryStorage(), nil, nil
	}
	s3, err := attachment.NewS3Storage(attachment.S3Config{
		Endpoint:  sc.Endpoint,
		Region:    sc.Region,
		AccessKey: sc.AccessKey,
		SecretKey: sc.SecretKey,
		Bucket:    sc.Bucket,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("app: storage: %w", err)
	}
	return s3, s3, nil
}

// Run serves HTTP and gRPC until ctx is cancelled, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", a.Config.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go a.grpcHealth.Run(healthCtx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		a.Logger.Info("http listening", zap.String("addr", a.httpServer.Addr), zap.String("version", a.Config.Version))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		a.Logger.Info("grpc listening", zap.String("addr", grpcLis.Addr().String()))
		if err := a.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("http shutdown", zap.Error(err))
	}
	a.grpcServer.GracefulStop()
	return runErr
}

func (a *App) Close() error {
	return a.Store.Close()
}
