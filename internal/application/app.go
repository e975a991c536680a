// Package application is the dependency-injection container: it wires
// the credential manager (C3), model cache (C4), transformer (C5),
// driver (C8) and use-cases into the HTTP server, the way the teacher's
// application.App wires its own repositories/services/interfaces.
package application

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sad1droid/kiro-openai-gateway/internal/application/usecase"
	"github.com/sad1droid/kiro-openai-gateway/internal/credentials"
	"github.com/sad1droid/kiro-openai-gateway/internal/driver"
	"github.com/sad1droid/kiro-openai-gateway/internal/infrastructure/config"
	"github.com/sad1droid/kiro-openai-gateway/internal/infrastructure/debug"
	httpiface "github.com/sad1droid/kiro-openai-gateway/internal/interfaces/http"
	"github.com/sad1droid/kiro-openai-gateway/internal/modelinfo"
	"github.com/sad1droid/kiro-openai-gateway/internal/transform"
)

// App owns every long-lived collaborator the gateway needs and the HTTP
// server built on top of them.
type App struct {
	config *config.Config
	logger *zap.Logger

	creds      *credentials.Manager
	modelCache *modelinfo.Cache

	chatUseCase   *usecase.ChatCompletionUseCase
	modelsUseCase *usecase.ModelsUseCase

	httpServer *httpiface.Server
}

// NewApp constructs the full dependency graph from cfg.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	if err := app.initCredentials(); err != nil {
		return nil, fmt.Errorf("failed to init credentials: %w", err)
	}

	app.modelCache = modelinfo.NewCache(cfg.ModelCacheTTL, cfg.DefaultMaxInputTokens)

	d := driver.New(
		&http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: upstreamTransport(cfg.ConnectTimeout),
		},
		app.creds,
		cfg.MaxRetries,
		cfg.BaseRetryDelay,
		logger,
	)

	dumper := debug.New(cfg.DebugLastRequest, cfg.DebugDir, logger)
	transformer := transform.NewTransformer(cfg.ToolDescriptionMaxLen)

	app.chatUseCase = usecase.NewChatCompletionUseCase(d, app.creds, app.modelCache, transformer, dumper, logger)
	app.modelsUseCase = usecase.NewModelsUseCase(d, app.creds, app.modelCache, logger)

	app.httpServer = httpiface.NewServer(
		httpiface.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			Mode:        ginModeFor(cfg),
			ProxyAPIKey: cfg.ProxyAPIKey,
		},
		app.chatUseCase,
		app.modelsUseCase,
		logger,
	)

	return app, nil
}

// initCredentials loads the initial Record from the credentials file (if
// configured) and layers env-sourced overrides on top: REFRESH_TOKEN and
// PROFILE_ARN replace the file's values when set, and KIRO_REGION is used
// only when the file carried no region.
func (app *App) initCredentials() error {
	store := credentials.NewFileStore(app.config.CredsFile)

	rec, err := store.Load()
	if err != nil {
		return err
	}
	if app.config.RefreshToken != "" {
		rec.RefreshToken = app.config.RefreshToken
	}
	if app.config.ProfileArn != "" {
		rec.ProfileArn = app.config.ProfileArn
	}
	if rec.Region == "" {
		rec.Region = app.config.Region
	}

	app.creds = credentials.NewManager(
		rec,
		store,
		app.config.TokenRefreshThreshold,
		app.config.RefreshTimeout,
		app.logger,
	)
	return nil
}

// upstreamTransport builds an http.Transport whose dial step is bounded
// by connectTimeout, independent of the overall per-request timeout
// (spec §5: "Connect timeouts are always short, <=10s").
func upstreamTransport(connectTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	return transport
}

func ginModeFor(cfg *config.Config) string {
	if cfg.LogLevel == "debug" {
		return "debug"
	}
	return "release"
}

// Start begins serving HTTP traffic.
func (app *App) Start(ctx context.Context) error {
	return app.httpServer.Start(ctx)
}

// Stop gracefully shuts the HTTP server down within ctx's deadline.
func (app *App) Stop(ctx context.Context) error {
	return app.httpServer.Stop(ctx)
}

// Logger returns the application logger.
func (app *App) Logger() *zap.Logger { return app.logger }

// shutdownGrace is the default bound main() gives Stop to finish.
const shutdownGrace = 30 * time.Second

// ShutdownGrace returns the duration main() should bound graceful
// shutdown by, mirroring the teacher's hardcoded 30s in cmd/gateway.
func ShutdownGrace() time.Duration { return shutdownGrace }
