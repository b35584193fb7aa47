// Package config defines the configuration structure for the spectator sheet
// webhook. Configuration is loaded once at process initialization (Lambda cold
// start or server boot) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"spectatorsheet/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"spectator-sheet-webhook"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Stripe        StripeConfig
	Google        GoogleConfig
	Upstream      UpstreamConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and routing configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	WebhookPath    string        `envconfig:"WEBHOOK_PATH" default:"/webhooks/stripe" validate:"required,startswith=/"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"` // Lambda timeout minus 1s
}

// StripeConfig holds the payment provider credentials and webhook settings.
type StripeConfig struct {
	SecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	// APIURL overrides the Stripe API base URL (stripe-mock, tests).
	APIURL           string        `envconfig:"STRIPE_API_URL" validate:"omitempty,url"`
	WebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	// Must be true when the Stripe endpoint's API version differs from stripe-go's.
	IgnoreAPIVersionMismatch bool `envconfig:"STRIPE_IGNORE_API_VERSION_MISMATCH" default:"false"`
}

// GoogleConfig holds the service account used to write to Google Sheets.
type GoogleConfig struct {
	ServiceAccountEmail string       `envconfig:"GOOGLE_SERVICE_ACCOUNT_EMAIL" validate:"required,email"`
	PrivateKey          SecretString `envconfig:"GOOGLE_PRIVATE_KEY" validate:"required"`
	// Endpoint and TokenURL override the Google defaults (emulators, tests).
	SheetsEndpoint string `envconfig:"GOOGLE_SHEETS_ENDPOINT" validate:"omitempty,url"`
	TokenURL       string `envconfig:"GOOGLE_TOKEN_URL" validate:"omitempty,url"`
}

// UpstreamConfig holds settings shared by every outbound HTTP client.
type UpstreamConfig struct {
	Timeout   time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"20s"`
	UserAgent string        `envconfig:"UPSTREAM_USER_AGENT" default:"SpectatorSheet/1.0"`
}

// AWSConfig holds AWS regional configuration for SSM and CloudWatch.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SpectatorSheet"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
