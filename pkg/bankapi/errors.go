package bankapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Client-level error values. Non-success responses are reported as *APIError instead.
var (
	ErrNetwork            = errors.New("network failure")
	ErrDecodeResponse     = errors.New("invalid response body")
	ErrResponseTooLarge   = errors.New("response body too large")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidEndpoint    = errors.New("invalid endpoint")
	ErrInvalidClientSetup = errors.New("invalid client config")
	ErrCredentialSource   = errors.New("credential unavailable")
	ErrInvalidBalance     = errors.New("invalid balance")
)

// DefaultAPIErrorMessage is used when a failed response carries no usable message.
const DefaultAPIErrorMessage = "API request failed"

// APIError is returned when the remote service answers with a non-2xx status.
// Its text is the server-supplied message, verbatim.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    any
}

// Error returns the server-supplied message.
func (apiError *APIError) Error() string {
	return apiError.Message
}

// Unauthorized reports whether the remote service rejected the credential.
func (apiError *APIError) Unauthorized() bool {
	return apiError.StatusCode == http.StatusUnauthorized
}

// StatusCode extracts the HTTP status of an *APIError anywhere in err's chain.
// It returns 0 when err did not come from a remote response.
func StatusCode(err error) int {
	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.StatusCode
	}
	return 0
}

// newAPIError builds an APIError from a response body that was already
// converted to caller convention. The message prefers "message", then a
// string "error", then a nested {"error": {"message": ...}} envelope.
func newAPIError(statusCode int, payload any) *APIError {
	apiError := &APIError{StatusCode: statusCode}
	fields, _ := payload.(map[string]any)

	message := stringField(fields, "message")
	switch errorValue := fields["error"].(type) {
	case string:
		apiError.Code = errorValue
		if message == "" {
			message = errorValue
		}
	case map[string]any:
		apiError.Code = stringField(errorValue, "code")
		if message == "" {
			message = stringField(errorValue, "message")
		}
	}
	if message == "" {
		message = DefaultAPIErrorMessage
	}
	apiError.Message = message
	apiError.Details = fields["details"]
	return apiError
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	value, _ := fields[key].(string)
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return value
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
