package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cchalm/kb-assistant/internal/config"
	"github.com/cchalm/kb-assistant/internal/extract"
	githubpkg "github.com/cchalm/kb-assistant/internal/github"
	"github.com/cchalm/kb-assistant/internal/kb"
	"github.com/cchalm/kb-assistant/internal/logging"
	"github.com/cchalm/kb-assistant/internal/telemetry"
	"github.com/cchalm/kb-assistant/internal/transport"
)

// The Messages API is paced well below typical per-minute request limits; 429s are still retried by the transport
const requestsPerSecond = 2

func setupContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Setup graceful shutdown. The first signal lets an in-flight answer finish; a second one exits immediately
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
		<-interrupt
		fmt.Fprintln(os.Stderr, "Forcing shutdown")
		os.Exit(1)
	}()

	return ctx
}

// appEnv holds the resources shared by every command
type appEnv struct {
	logger    *zap.Logger
	telemetry *telemetry.Provider
	tracer    trace.Tracer
	store     *kb.SQLiteStore
}

func newAppEnv(ctx context.Context, cfg config.Config) (*appEnv, error) {
	logger, err := logging.New(cfg.LogPath(), cfg.Verbose)
	if err != nil {
		return nil, err
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       true,
		ServiceVersion: versionInfo.Version,
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := kb.OpenSQLiteStore(ctx, cfg.DatabasePath(), newExtractor(ctx, cfg, logger), logger)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	return &appEnv{
		logger:    logger,
		telemetry: provider,
		tracer:    provider.Tracer("kb-assistant"),
		store:     store,
	}, nil
}

func (env *appEnv) Close() {
	if err := env.store.Close(); err != nil {
		env.logger.Warn("failed to close knowledge base", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.telemetry.Shutdown(ctx); err != nil {
		env.logger.Warn("failed to flush telemetry", zap.Error(err))
	}
	_ = env.logger.Sync()
}

// newExtractor chains the supported source types, most specific first
func newExtractor(ctx context.Context, cfg config.Config, logger *zap.Logger) extract.Extractor {
	githubClient := githubpkg.NewClient(ctx, cfg.GitHubToken)
	return extract.Chain{
		extract.NewGitHubExtractor(githubpkg.NewContentService(githubClient)),
		extract.FileExtractor{},
		extract.NewWebExtractor(newWebClient(logger)),
	}
}

// newWebClient fetches pages through the rate limited transport so 429s from a site are retried
func newWebClient(logger *zap.Logger) *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport.WithRateLimiting(nil, transport.WithLogger(logger)),
	}
}

func createAnthropicClient(apiKey string, logger *zap.Logger) anthropic.Client {
	rateLimitedHTTPClient := &http.Client{
		Transport: transport.WithRateLimiting(nil,
			transport.WithPacing(rate.NewLimiter(rate.Limit(requestsPerSecond), 1)),
			transport.WithLogger(logger),
		),
	}
	return anthropic.NewClient(
		option.WithHTTPClient(rateLimitedHTTPClient),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(5),
	)
}
