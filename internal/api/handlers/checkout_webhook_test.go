package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"spectatorsheet/internal/config"
	"spectatorsheet/internal/core"
	"spectatorsheet/internal/external"
	"spectatorsheet/internal/spectators"
	"spectatorsheet/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

type mockVerifier struct {
	event *types.WebhookEvent
	err   error
	calls int
}

func (m *mockVerifier) Verify(payload []byte, header string) (*types.WebhookEvent, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.event, nil
}

type appendCall struct {
	SpreadsheetID string
	Session       *types.CheckoutSession
}

type mockAppender struct {
	calls []appendCall
	err   error
}

func (m *mockAppender) Append(_ context.Context, spreadsheetID string, session *types.CheckoutSession) (spectators.Result, error) {
	m.calls = append(m.calls, appendCall{SpreadsheetID: spreadsheetID, Session: session})
	if m.err != nil {
		return spectators.Result{}, m.err
	}
	return spectators.Result{RowsAppended: 1}, nil
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

const testSecret = "whsec_handler_test"

const checkoutObject = `{
	"id": "cs_test_1",
	"object": "checkout.session",
	"customer_details": {"name": "Ada Lovelace", "email": "ada@example.com"},
	"custom_fields": [{"key": "meal", "type": "dropdown", "dropdown": {"value": "veg"}}]
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checkoutEvent() *types.WebhookEvent {
	return &types.WebhookEvent{
		ID:     "evt_1",
		Type:   types.EventCheckoutSessionCompleted,
		Object: json.RawMessage(checkoutObject),
	}
}

func signedRequest(t *testing.T, method, target, eventType, object string) *http.Request {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		stripe.APIVersion, eventType, object))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

// newTestRouter mounts the handler on a core.Server so the chi fallbacks and
// middleware are part of every test.
func newTestRouter(t *testing.T, h *CheckoutWebhookHandler) http.Handler {
	t.Helper()
	srv, err := core.NewServer(&config.Config{}, discardLogger())
	require.NoError(t, err)
	srv.RouteRegistrars = []core.RouteRegistrar{h.RegisterRoutes("/webhooks/stripe")}
	srv.MountRoutes()
	return srv.Handler()
}

func serve(t *testing.T, h http.Handler, req *http.Request) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body core.MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return rec.Code, body.Message
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCheckoutWebhook_AppendsSession(t *testing.T) {
	verifier := &mockVerifier{event: checkoutEvent()}
	appender := &mockAppender{}
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, appender, nil, discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", strings.NewReader(`{}`))
	status, msg := serve(t, router, req)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, core.MessageReceived, msg)
	require.Len(t, appender.calls, 1)
	assert.Equal(t, "doc1", appender.calls[0].SpreadsheetID)

	session := appender.calls[0].Session
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "Ada Lovelace", session.CustomerName)
	assert.Equal(t, []types.CustomField{{Key: "meal", Value: types.DropdownValue{Value: "veg"}}}, session.CustomFields)
}

func TestCheckoutWebhook_MethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			verifier := &mockVerifier{err: errors.New("never called")}
			appender := &mockAppender{}
			router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, appender, nil, discardLogger()))

			req := httptest.NewRequest(method, "/webhooks/stripe?google_sheet_id=doc1", nil)
			status, msg := serve(t, router, req)

			assert.Equal(t, http.StatusMethodNotAllowed, status)
			assert.Equal(t, core.MessageMethodNotAllowed, msg)
			assert.Zero(t, verifier.calls, "method check precedes verification")
			assert.Empty(t, appender.calls)
		})
	}
}

func TestCheckoutWebhook_VerificationFailure(t *testing.T) {
	verifier := &mockVerifier{err: types.NewAppError(types.ErrCodeValidationSignature, "webhook had no valid signature", nil)}
	appender := &mockAppender{}
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, appender, nil, discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", strings.NewReader(`{}`))
	status, msg := serve(t, router, req)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "webhook had no valid signature", msg)
	assert.Empty(t, appender.calls)
}

func TestCheckoutWebhook_VerificationPrecedesSheetID(t *testing.T) {
	verifier := &mockVerifier{err: types.NewAppError(types.ErrCodeValidationSignature, "bad signature", nil)}
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, &mockAppender{}, nil, discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	status, msg := serve(t, router, req)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad signature", msg)
}

func TestCheckoutWebhook_MissingSheetID(t *testing.T) {
	for _, target := range []string{"/webhooks/stripe", "/webhooks/stripe?google_sheet_id="} {
		t.Run(target, func(t *testing.T) {
			appender := &mockAppender{}
			router := newTestRouter(t, NewCheckoutWebhookHandler(&mockVerifier{event: checkoutEvent()}, appender, nil, discardLogger()))

			req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{}`))
			status, msg := serve(t, router, req)

			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, MessageMissingSheetID, msg)
			assert.Empty(t, appender.calls)
		})
	}
}

func TestCheckoutWebhook_IgnoresOtherEvents(t *testing.T) {
	verifier := &mockVerifier{event: &types.WebhookEvent{
		ID:     "evt_2",
		Type:   "payment_intent.succeeded",
		Object: json.RawMessage(`{"id":"pi_1"}`),
	}}
	appender := &mockAppender{}
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, appender, nil, discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", strings.NewReader(`{}`))
	status, msg := serve(t, router, req)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, core.MessageReceived, msg)
	assert.Empty(t, appender.calls)
}

func TestCheckoutWebhook_DownstreamFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"sheets", types.NewAppError(types.ErrCodeUpstreamSheets, "appending row to \"GA Ticket\"", nil)},
		{"stripe", types.NewAppError(types.ErrCodeUpstreamStripe, "listing line items", nil)},
		{"plain", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appender := &mockAppender{err: tt.err}
			router := newTestRouter(t, NewCheckoutWebhookHandler(&mockVerifier{event: checkoutEvent()}, appender, nil, discardLogger()))

			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", strings.NewReader(`{}`))
			status, msg := serve(t, router, req)

			assert.Equal(t, http.StatusInternalServerError, status)
			assert.Equal(t, core.MessageHandlerFailed, msg, "downstream detail must not leak")
			assert.Len(t, appender.calls, 1)
		})
	}
}

func TestCheckoutWebhook_MalformedSession(t *testing.T) {
	verifier := &mockVerifier{event: &types.WebhookEvent{
		ID:     "evt_3",
		Type:   types.EventCheckoutSessionCompleted,
		Object: json.RawMessage(`{"object":"checkout.session"}`),
	}}
	appender := &mockAppender{}
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, appender, nil, discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", strings.NewReader(`{}`))
	status, msg := serve(t, router, req)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, core.MessageHandlerFailed, msg)
	assert.Empty(t, appender.calls)
}

func TestCheckoutWebhook_UnhandledPermittedEvent(t *testing.T) {
	verifier := &mockVerifier{event: &types.WebhookEvent{ID: "evt_4", Type: "checkout.session.expired"}}
	appender := &mockAppender{}
	h := NewCheckoutWebhookHandler(verifier, appender, nil, discardLogger())
	h.permitted["checkout.session.expired"] = struct{}{}

	err := h.dispatch(context.Background(), "doc1", verifier.event)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalUnhandledEvent, appErr.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", strings.NewReader(`{}`))
	status, msg := serve(t, newTestRouter(t, h), req)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, core.MessageHandlerFailed, msg)
}

func TestCheckoutWebhook_BodyTooLarge(t *testing.T) {
	verifier := &mockVerifier{event: checkoutEvent()}
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, &mockAppender{}, nil, discardLogger()))

	body := bytes.Repeat([]byte("a"), core.MaxWebhookBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", bytes.NewReader(body))
	status, _ := serve(t, router, req)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Zero(t, verifier.calls)
}

// The remaining tests drive the real stripe-go verifier with signed payloads.

func TestCheckoutWebhook_SignedDelivery(t *testing.T) {
	appender := &mockAppender{}
	verifier := external.NewStripeVerifier(testSecret, 5*time.Minute, false)
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, appender, nil, discardLogger()))

	req := signedRequest(t, http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", types.EventCheckoutSessionCompleted, checkoutObject)
	status, msg := serve(t, router, req)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, core.MessageReceived, msg)
	require.Len(t, appender.calls, 1)
	assert.Equal(t, "ada@example.com", appender.calls[0].Session.CustomerEmail)
}

func TestCheckoutWebhook_SignedDeliveryWrongSecret(t *testing.T) {
	appender := &mockAppender{}
	verifier := external.NewStripeVerifier("whsec_other", 5*time.Minute, false)
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, appender, nil, discardLogger()))

	req := signedRequest(t, http.MethodPost, "/webhooks/stripe?google_sheet_id=doc1", types.EventCheckoutSessionCompleted, checkoutObject)
	status, msg := serve(t, router, req)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, msg)
	assert.NotEqual(t, core.MessageHandlerFailed, msg)
	assert.Empty(t, appender.calls)
}

func TestCheckoutWebhook_SignedGetIsRejected(t *testing.T) {
	verifier := external.NewStripeVerifier(testSecret, 5*time.Minute, false)
	router := newTestRouter(t, NewCheckoutWebhookHandler(verifier, &mockAppender{}, nil, discardLogger()))

	req := signedRequest(t, http.MethodGet, "/webhooks/stripe?google_sheet_id=doc1", types.EventCheckoutSessionCompleted, checkoutObject)
	status, _ := serve(t, router, req)

	assert.Equal(t, http.StatusMethodNotAllowed, status)
}
