// Package main is the entry point for the spectator sheet webhook.
//
// Startup:
//  1. Load configuration (env, .env, SSM pointers outside local).
//  2. Build the Stripe and Google clients, each behind its own circuit breaker.
//  3. Optionally build the CloudWatch metrics collector.
//  4. Mount the webhook and health routes on the core router.
//  5. Serve through a Lambda Function URL when running inside Lambda,
//     otherwise as a plain HTTP server with graceful shutdown.
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

	"github.com/aws/aws-lambda-go/lambdaurl"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"spectatorsheet/internal/api/handlers"
	"spectatorsheet/internal/config"
	"spectatorsheet/internal/core"
	"spectatorsheet/internal/external"
	"spectatorsheet/internal/spectators"
)

// metricsFlushTimeout bounds the per-invocation metrics flush in Lambda.
const metricsFlushTimeout = 2 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(newSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel).With("service", cfg.Service)
	logger.Info("spectator sheet webhook starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"webhook_path", cfg.Server.WebhookPath,
	)

	var cw external.CloudWatchClient
	if cfg.Observability.MetricsEnabled {
		cw, err = newCloudWatchClient(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
	}

	srv, err := buildServer(cfg, logger, cw)
	if err != nil {
		return err
	}

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires every dependency into a mounted core.Server. cw may be
// nil, in which case metrics are not collected.
func buildServer(cfg *config.Config, logger *slog.Logger, cw external.CloudWatchClient) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	userAgent := cfg.Build.UserAgent(cfg.Upstream.UserAgent)
	stripeHTTP := external.NewHTTPClient("stripe", userAgent, cfg.Upstream.Timeout, nil)
	googleHTTP := external.NewHTTPClient("google", userAgent, cfg.Upstream.Timeout, nil)

	verifier := external.NewStripeVerifier(
		cfg.Stripe.WebhookSecret.Unmask(),
		cfg.Stripe.WebhookTolerance,
		cfg.Stripe.IgnoreAPIVersionMismatch,
	)
	lineItems := external.NewStripeLineItems(external.StripeLineItemsConfig{
		SecretKey:  cfg.Stripe.SecretKey.Unmask(),
		BaseURL:    cfg.Stripe.APIURL,
		HTTPClient: stripeHTTP,
		Logger:     logger,
	})
	sheets := external.NewGoogleSheets(external.GoogleSheetsConfig{
		ServiceAccountEmail: cfg.Google.ServiceAccountEmail,
		PrivateKey:          cfg.Google.PrivateKey.UnmaskPEM(),
		Endpoint:            cfg.Google.SheetsEndpoint,
		TokenURL:            cfg.Google.TokenURL,
		HTTPClient:          googleHTTP,
	})

	appender := &spectators.Appender{
		Sheets:    sheets,
		LineItems: lineItems,
		Logger:    logger,
	}

	if cw != nil {
		metrics := external.NewCloudWatchMetrics(cw, cfg.Observability.MetricNamespace, logger)
		srv.Metrics = metrics
		appender.Metrics = metrics
	}

	srv.HealthProbes = []core.HealthProbe{
		sheets,
		stripeHTTP.Transport.(*external.BreakerTransport),
		googleHTTP.Transport.(*external.BreakerTransport),
	}

	webhookHandler := handlers.NewCheckoutWebhookHandler(verifier, appender, srv.Validator, logger)
	srv.RouteRegistrars = append(srv.RouteRegistrars, webhookHandler.RegisterRoutes(cfg.Server.WebhookPath))

	srv.MountRoutes()
	return srv, nil
}

// newSecretProvider picks how *_SSM_PARAM pointers are resolved. It runs
// before config loading, so it reads the environment directly.
func newSecretProvider() config.SecretProvider {
	if os.Getenv("SECRETS_PROVIDER") == "env" {
		return config.NewEnvVarProvider()
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
}

func newCloudWatchClient(ctx context.Context, cfg *config.Config) (*cloudwatch.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	}), nil
}

// isLambdaEnvironment detects the Lambda runtime.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

// runLambda serves the router behind a Lambda Function URL. Buffered metrics
// are flushed after every invocation because the sandbox may be frozen
// between invocations.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	handler := srv.Handler()
	flusher, _ := srv.Metrics.(interface{ Flush(context.Context) error })

	logger.Info("serving through Lambda Function URL")
	lambdaurl.Start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
		if flusher == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), metricsFlushTimeout)
		defer cancel()
		_ = flusher.Flush(ctx)
	}))
	return nil
}

func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
