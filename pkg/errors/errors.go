package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")

	// ErrConfig means a required endpoint or setting is missing. It is fatal
	// and never triggers a local fallback.
	ErrConfig = errors.New("configuration error")

	// ErrNetwork means the remote API could not be reached or answered with a
	// server-side failure. It is transient.
	ErrNetwork = errors.New("network error")

	// ErrRejected means the remote API answered and refused the request.
	// Replaying the same request will not change the answer.
	ErrRejected = errors.New("rejected by upstream")

	// ErrStoreWrite means a local persistence write failed.
	ErrStoreWrite = errors.New("store write error")

	// ErrDataUnavailable means neither the network nor the local store could
	// produce a result.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrOffline means the operation requires connectivity that is known to be absent.
	ErrOffline = errors.New("offline")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// ConfigError creates an error for a missing or invalid setting.
func ConfigError(message string) *AppError {
	return &AppError{
		Code:    "CONFIG_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     ErrConfig,
	}
}

// NetworkError wraps a transport failure or a temporary error response from the API.
func NetworkError(message string, cause error) *AppError {
	err := ErrNetwork
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrNetwork, cause)
	}
	return &AppError{
		Code:    "NETWORK_ERROR",
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

// Rejected wraps a permanent refusal from the API, such as a 4xx validation error.
func Rejected(message string, cause error) *AppError {
	err := ErrRejected
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrRejected, cause)
	}
	return &AppError{
		Code:    "UPSTREAM_REJECTED",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}

// StoreWriteError wraps a failed local persistence write.
func StoreWriteError(collection string, cause error) *AppError {
	err := ErrStoreWrite
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrStoreWrite, cause)
	}
	return &AppError{
		Code:    "STORE_WRITE_ERROR",
		Message: fmt.Sprintf("failed to write %s", collection),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// DataUnavailable creates a 503 error for a read that neither source could satisfy.
// The causes are kept for errors.Is checks and logging.
func DataUnavailable(resource string, causes ...error) *AppError {
	err := ErrDataUnavailable
	if joined := errors.Join(causes...); joined != nil {
		err = fmt.Errorf("%w: %w", ErrDataUnavailable, joined)
	}
	return &AppError{
		Code:    "DATA_UNAVAILABLE",
		Message: fmt.Sprintf("%s could not be loaded from the network or the local store", resource),
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// Offline creates a 503 error for operations that need connectivity.
func Offline(message string) *AppError {
	return &AppError{
		Code:    "OFFLINE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrOffline,
	}
}

// IsNetwork reports whether err is a transient network failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsRejected reports whether the API refused the request outright.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, ErrDataUnavailable), errors.Is(err, ErrOffline):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
