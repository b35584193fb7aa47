package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"spectatorsheet/internal/types"
)

// ---------------------------------------------------------------------------
// Signature verification
// ---------------------------------------------------------------------------

// StripeVerifier implements EventVerifier with stripe-go's webhook package.
type StripeVerifier struct {
	secret string
	opts   webhook.ConstructEventOptions
}

// NewStripeVerifier creates a verifier for the given signing secret.
// tolerance bounds the signature timestamp age. When ignoreAPIVersionMismatch
// is false, stripe-go rejects events rendered for an API version other than the
// one it pins, so endpoints on another version must pass true.
func NewStripeVerifier(secret string, tolerance time.Duration, ignoreAPIVersionMismatch bool) *StripeVerifier {
	return &StripeVerifier{
		secret: secret,
		opts: webhook.ConstructEventOptions{
			Tolerance:                tolerance,
			IgnoreAPIVersionMismatch: ignoreAPIVersionMismatch,
		},
	}
}

// Verify checks the Stripe-Signature header against the raw payload. Any
// failure is a validation error whose message is stripe-go's own text.
func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (*types.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, v.opts)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationSignature, err.Error(), err)
	}

	out := &types.WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}

// DecodeCheckoutSession maps a checkout.session.completed data object onto
// the domain session. Custom field payloads become the typed union.
func DecodeCheckoutSession(raw json.RawMessage) (*types.CheckoutSession, error) {
	if len(raw) == 0 {
		return nil, types.NewAppError(types.ErrCodeInternalCheckoutEvent, "checkout session payload is empty", nil)
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCheckoutEvent, "checkout session payload is malformed", err)
	}
	if cs.ID == "" {
		return nil, types.NewAppError(types.ErrCodeInternalCheckoutEvent, "checkout session has no id", nil)
	}

	out := &types.CheckoutSession{
		ID:           cs.ID,
		CustomFields: make([]types.CustomField, 0, len(cs.CustomFields)),
	}
	if cs.CustomerDetails != nil {
		out.CustomerName = cs.CustomerDetails.Name
		out.CustomerEmail = cs.CustomerDetails.Email
	}

	for _, f := range cs.CustomFields {
		if f == nil {
			continue
		}
		value, err := customFieldValue(f)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalCheckoutEvent, err.Error(), err)
		}
		out.CustomFields = append(out.CustomFields, types.CustomField{Key: f.Key, Value: value})
	}

	return out, nil
}

// customFieldValue selects the payload matching the field's type tag. A field
// the customer left blank has a nil payload and yields a nil value.
func customFieldValue(f *stripe.CheckoutSessionCustomField) (types.CustomFieldValue, error) {
	switch f.Type {
	case stripe.CheckoutSessionCustomFieldTypeText:
		if f.Text == nil {
			return nil, nil
		}
		return types.TextValue{Value: f.Text.Value}, nil
	case stripe.CheckoutSessionCustomFieldTypeNumeric:
		if f.Numeric == nil {
			return nil, nil
		}
		return types.NumericValue{Value: f.Numeric.Value}, nil
	case stripe.CheckoutSessionCustomFieldTypeDropdown:
		if f.Dropdown == nil {
			return nil, nil
		}
		return types.DropdownValue{Value: f.Dropdown.Value}, nil
	default:
		return nil, fmt.Errorf("custom field %q has unsupported type %q", f.Key, f.Type)
	}
}

// ---------------------------------------------------------------------------
// Line items
// ---------------------------------------------------------------------------

// StripeLineItemsConfig configures StripeLineItems.
type StripeLineItemsConfig struct {
	SecretKey  string
	BaseURL    string // Override for stripe-mock and tests; empty uses api.stripe.com
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// StripeLineItems implements LineItemLister with the checkout/session client.
// The backend is built with retries disabled.
type StripeLineItems struct {
	client session.Client
}

// NewStripeLineItems creates a lister bound to its own backend, so tests and
// the process never share stripe-go's global configuration.
func NewStripeLineItems(cfg StripeLineItemsConfig) *StripeLineItems {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripeLogger{logger: logger.With("component", "stripe")},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	return &StripeLineItems{
		client: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
	}
}

// ListLineItems drains the auto-paginating iterator before returning, so a
// failure on any page fails the whole listing.
func (s *StripeLineItems) ListLineItems(ctx context.Context, sessionID string) ([]types.LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx

	var items []types.LineItem
	it := s.client.ListLineItems(params)
	for it.Next() {
		li := it.LineItem()
		items = append(items, types.LineItem{
			SessionID:   sessionID,
			Description: li.Description,
			Quantity:    li.Quantity,
		})
	}
	if err := it.Err(); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("listing line items for %s", sessionID),
			err,
		)
	}

	return items, nil
}

// stripeLogger adapts slog to stripe.LeveledLoggerInterface.
type stripeLogger struct {
	logger *slog.Logger
}

func (l *stripeLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *stripeLogger) Infof(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *stripeLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *stripeLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

var (
	_ EventVerifier                 = (*StripeVerifier)(nil)
	_ LineItemLister                = (*StripeLineItems)(nil)
	_ stripe.LeveledLoggerInterface = (*stripeLogger)(nil)
)
