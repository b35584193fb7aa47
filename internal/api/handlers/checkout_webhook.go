// Package handlers contains the HTTP handlers of the spectator sheet webhook.
//
// The Stripe webhook is public: Stripe calls it directly, and the
// Stripe-Signature header is the only authentication.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"spectatorsheet/internal/core"
	"spectatorsheet/internal/external"
	"spectatorsheet/internal/spectators"
	"spectatorsheet/internal/types"
)

// MessageMissingSheetID is returned when the destination spreadsheet is not
// named in the query string.
const MessageMissingSheetID = "Please provide a Google Sheet ID via the URL query parameters (?google_sheet_id=xyz)"

// CheckoutAppender writes the spectators of a completed checkout session.
type CheckoutAppender interface {
	Append(ctx context.Context, spreadsheetID string, session *types.CheckoutSession) (spectators.Result, error)
}

// webhookQuery is the query string of a webhook delivery.
type webhookQuery struct {
	GoogleSheetID string `query:"google_sheet_id" validate:"required"`
}

// CheckoutWebhookHandler receives Stripe events and appends a spectator row
// per purchased line item of every completed checkout session.
type CheckoutWebhookHandler struct {
	verifier  external.EventVerifier
	appender  CheckoutAppender
	validator *core.Validator
	logger    *slog.Logger

	// permitted lists the event types that reach dispatch; everything else
	// is acknowledged without side effects so Stripe stops redelivering.
	permitted map[string]struct{}
}

// NewCheckoutWebhookHandler creates the handler.
func NewCheckoutWebhookHandler(
	verifier external.EventVerifier,
	appender CheckoutAppender,
	validator *core.Validator,
	logger *slog.Logger,
) *CheckoutWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = core.NewValidator()
	}
	return &CheckoutWebhookHandler{
		verifier:  verifier,
		appender:  appender,
		validator: validator,
		logger:    logger,
		permitted: map[string]struct{}{
			types.EventCheckoutSessionCompleted: {},
		},
	}
}

// RegisterRoutes returns a registrar mounting the handler at path for every
// method; the handler answers non-POST requests itself.
func (h *CheckoutWebhookHandler) RegisterRoutes(path string) core.RouteRegistrar {
	return func(r chi.Router) {
		r.HandleFunc(path, h.Handle)
	}
}

// Handle processes one webhook delivery:
//  1. Rejects anything but POST with 405.
//  2. Verifies the Stripe-Signature header against the raw body (400 on failure).
//  3. Requires ?google_sheet_id (400).
//  4. Acknowledges event types outside the permitted set with 200.
//  5. Dispatches the event; any downstream failure is a 500.
func (h *CheckoutWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, h.logger)

	if r.Method != http.MethodPost {
		core.Error(w, r, types.NewAppError(types.ErrCodeMethodNotAllowed, core.MessageMethodNotAllowed, nil))
		return
	}

	payload, err := core.ReadBody(w, r, core.MaxWebhookBodySize)
	if err != nil {
		logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, err)
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger.WarnContext(ctx, "webhook verification failed", "error", err)
		core.Error(w, r, err)
		return
	}

	query := webhookQuery{GoogleSheetID: r.URL.Query().Get("google_sheet_id")}
	if err := h.validator.ValidateStruct(query); err != nil {
		logger.WarnContext(ctx, "webhook delivered without google_sheet_id",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationSheetID, MessageMissingSheetID, err))
		return
	}

	logger = logger.With("event_id", event.ID, "event_type", event.Type)

	if _, ok := h.permitted[event.Type]; !ok {
		logger.DebugContext(ctx, "ignoring event type")
		core.Message(w, r, http.StatusOK, core.MessageReceived)
		return
	}

	if err := h.dispatch(types.WithLogger(ctx, logger), query.GoogleSheetID, event); err != nil {
		logger.ErrorContext(ctx, "webhook handler failed",
			"google_sheet_id", query.GoogleSheetID,
			"error", err,
		)
		core.Message(w, r, http.StatusInternalServerError, core.MessageHandlerFailed)
		return
	}

	core.Message(w, r, http.StatusOK, core.MessageReceived)
}

func (h *CheckoutWebhookHandler) dispatch(ctx context.Context, spreadsheetID string, event *types.WebhookEvent) error {
	switch event.Type {
	case types.EventCheckoutSessionCompleted:
		session, err := external.DecodeCheckoutSession(event.Object)
		if err != nil {
			return err
		}
		_, err = h.appender.Append(ctx, spreadsheetID, session)
		return err

	default:
		return types.NewAppError(
			types.ErrCodeInternalUnhandledEvent,
			fmt.Sprintf("unhandled event: %s", event.Type),
			nil,
		)
	}
}
