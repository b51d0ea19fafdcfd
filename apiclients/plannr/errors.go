package plannr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingToken reports an empty or placeholder API token.
	ErrMissingToken = errors.New("plannr api token is missing or a placeholder")

	// ErrBulkTooLarge reports a bulk upsert over the Plannr batch limit.
	ErrBulkTooLarge = fmt.Errorf("maximum %d accounts allowed per bulk operation", maxBulkUpsert)
)

// Kind classifies a failed API call.
type Kind int

const (
	KindNone Kind = iota
	KindClient
	KindServer
	KindTransport
)

var kindName = map[Kind]string{
	KindNone:      "none",
	KindClient:    "client_error",
	KindServer:    "server_error",
	KindTransport: "transport_error",
}

// String returns the Kind name.
func (k Kind) String() string {
	return kindName[k]
}

// MarshalText implements encoding.TextMarshaler so that kinds are written by
// name in reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// APIError reports a failed Plannr API call. StatusCode is zero when no
// response was received.
type APIError struct {
	StatusCode int
	Message    string
	Body       string         // raw response body
	Data       map[string]any // decoded response body, if it was a JSON object
	Err        error          // underlying transport error
}

// Error fulfils the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Unwrap returns the underlying transport error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Kind classifies the error. 429 responses are client errors; the API's own
// rate limiting is not retried.
func (e *APIError) Kind() Kind {
	switch {
	case e.StatusCode == 0:
		return KindTransport
	case e.StatusCode >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// KindOf returns the Kind of err, treating any error which is not an
// *APIError as a transport error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return KindTransport
}

// newStatusError builds the APIError for a non-2xx response.
func newStatusError(status int, body []byte, data map[string]any) *APIError {
	msg, _ := data["message"].(string)
	e := &APIError{
		StatusCode: status,
		Body:       string(body),
		Data:       data,
	}
	switch status {
	case http.StatusBadRequest:
		if msg == "" {
			msg = "Invalid request payload"
		}
		e.Message = "Bad request: " + msg
	case http.StatusForbidden:
		if msg == "" {
			msg = "Insufficient permissions"
		}
		e.Message = "Permission denied: " + msg
	case http.StatusInternalServerError:
		e.Message = "Server error occurred. Please try again later."
	default:
		if msg == "" {
			msg = string(body)
		}
		e.Message = fmt.Sprintf("HTTP %d: %s", status, msg)
	}
	return e
}
