package gateway

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// APIError is the normalized form of any HTTP-level failure coming back from
// the backend, so callers can render a consistent message regardless of
// origin.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Code is the machine-readable error code, when the backend sent one.
	Code string
	// Message is the human-readable message.
	Message string
	// Detail carries any additional context from the structured envelope.
	Detail string
	// CorrelationID is the X-Request-ID the failing request carried.
	CorrelationID string
	// RequiresLogout is set when the backend declared the session dead.
	RequiresLogout bool
	// RequiresReauth is set when the backend wants step-up verification
	// (e.g. an expired second factor) without ending the session.
	RequiresReauth bool
	// Structured records whether the response carried the structured error
	// envelope. Legacy backends respond without one and get heuristic
	// treatment.
	Structured bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// parseAPIError builds an APIError from a response body. The structured
// envelope is {code, requires_logout, requires_reauth, detail}; anything else
// is treated as a legacy response.
func parseAPIError(status int, body []byte, correlationID string) *APIError {
	apiErr := &APIError{
		Status:        status,
		CorrelationID: correlationID,
		Message:       fmt.Sprintf("request failed with status %d", status),
	}

	raw := string(body)
	if !gjson.Valid(raw) {
		return apiErr
	}

	code := gjson.Get(raw, "code")
	requiresLogout := gjson.Get(raw, "requires_logout")
	requiresReauth := gjson.Get(raw, "requires_reauth")
	apiErr.Structured = code.Exists() || requiresLogout.Exists() || requiresReauth.Exists()

	apiErr.Code = code.String()
	apiErr.RequiresLogout = requiresLogout.Bool()
	apiErr.RequiresReauth = requiresReauth.Bool()
	apiErr.Detail = gjson.Get(raw, "detail").String()

	for _, path := range []string{"message", "detail", "error"} {
		if msg := gjson.Get(raw, path).String(); msg != "" {
			apiErr.Message = msg
			break
		}
	}
	return apiErr
}

// GetAPIError extracts an APIError from an error chain.
func GetAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether the error is an HTTP 401.
func IsUnauthorized(err error) bool {
	apiErr, ok := GetAPIError(err)
	return ok && apiErr.Status == 401
}

// IsForbidden reports whether the error is an HTTP 403.
func IsForbidden(err error) bool {
	apiErr, ok := GetAPIError(err)
	return ok && apiErr.Status == 403
}

// IsReauthRequired reports whether the backend asked for step-up
// re-authentication. The session stays alive; the caller is responsible for
// prompting additional verification.
func IsReauthRequired(err error) bool {
	apiErr, ok := GetAPIError(err)
	return ok && apiErr.RequiresReauth
}
