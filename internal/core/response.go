package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"spectatorsheet/internal/types"
)

// MaxWebhookBodySize caps the raw body read for signature verification.
// Checkout events are a few kilobytes; Stripe documents no payload above this.
const MaxWebhookBodySize = 64 << 10

// Response messages shared across handlers.
const (
	MessageReceived         = "Received"
	MessageMethodNotAllowed = "Method not allowed"
	MessageHandlerFailed    = "Webhook handler failed"
)

// MessageResponse is the body of every response this service writes.
type MessageResponse struct {
	Message string `json:"message"`
}

// JSON writes data as a JSON body with the given status. A marshal failure is
// logged on the request logger and answered with a generic 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		types.LoggerFromContext(r.Context(), nil).Error("failed to encode response",
			"error", err,
			"status", status,
			"request_id", types.GetRequestID(r.Context()),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"` + MessageHandlerFailed + `"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Message writes {"message": msg} with the given status.
func Message(w http.ResponseWriter, r *http.Request, status int, msg string) {
	JSON(w, r, status, MessageResponse{Message: msg})
}

// Error writes err as a message response. An AppError supplies both the status
// and the message; any other error becomes a 500 with the generic failure
// message so internal causes never reach the caller.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		Message(w, r, appErr.HTTPStatus(), appErr.Message)
		return
	}
	Message(w, r, http.StatusInternalServerError, MessageHandlerFailed)
}

// ReadBody returns the request body byte-for-byte, up to limit bytes.
// Signature verification needs the exact bytes Stripe signed, so the body is
// never decoded here.
func ReadBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, types.NewAppError(types.ErrCodeValidationPayload, "request body must not be empty", nil)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, types.NewAppError(types.ErrCodeValidationPayload, "request body too large", err)
		}
		return nil, types.NewAppError(types.ErrCodeValidationPayload, "failed to read request body", err)
	}
	return body, nil
}
