// Package storeerr classifies failures raised by the storage layer.
package storeerr

import (
	"errors"
	"fmt"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments (names, ranges, nil values).
	ErrInvalidArgument = errors.New("storage invalid argument")
	// ErrUninitialized classifies operations performed before Initialize succeeded.
	ErrUninitialized = errors.New("storage target uninitialized")
	// ErrNotFound classifies missing objects, entities, containers and tables.
	ErrNotFound = errors.New("storage not found")
	// ErrConflict classifies optimistic concurrency conflicts.
	ErrConflict = errors.New("storage conflict")
	// ErrDataCorruption classifies content digest mismatches. Never retried.
	ErrDataCorruption = errors.New("storage data corruption")
	// ErrRetryable classifies transient failures safe to retry.
	ErrRetryable = errors.New("storage retryable error")
	// ErrClosed classifies operations performed on closed components.
	ErrClosed = errors.New("storage closed")
)

// New wraps kind with a message, keeping kind matchable with errors.Is.
func New(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// Newf is the formatted variant of New.
func Newf(kind error, format string, args ...any) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap joins kind with the original remote fault so both stay inspectable.
func Wrap(kind error, message string, cause error) error {
	if cause == nil {
		return New(kind, message)
	}
	return errors.Join(New(kind, message), cause)
}

// Uninitialized reports that op ran before Initialize.
func Uninitialized(op, target string) error {
	return Newf(ErrUninitialized, "%s: before usage, Initialize must be called to initialize the %s", op, target)
}

var notFoundCodes = map[string]struct{}{
	"NoSuchKey":                 {},
	"NoSuchBucket":              {},
	"NotFound":                  {},
	"ResourceNotFoundException": {},
}

var conflictCodes = map[string]struct{}{
	"PreconditionFailed":              {},
	"ConditionalRequestConflict":      {},
	"ConditionalCheckFailedException": {},
	"TransactionConflictException":    {},
}

var throttlingCodes = map[string]struct{}{
	"ProvisionedThroughputExceededException": {},
	"RequestLimitExceeded":                   {},
	"ThrottlingException":                    {},
	"SlowDown":                               {},
}

// IsNotFound reports whether err is a not-found outcome, either already
// classified or as reported by the remote store.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	if hasCode(err, notFoundCodes) {
		return true
	}
	return statusCode(err) == 404
}

// IsConflict reports whether err is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	if hasCode(err, conflictCodes) {
		return true
	}
	code := statusCode(err)
	return code == 409 || code == 412
}

// IsThrottling reports whether the store asked the caller to slow down.
func IsThrottling(err error) bool {
	if err == nil {
		return false
	}
	if hasCode(err, throttlingCodes) {
		return true
	}
	return statusCode(err) == 503
}

// ErrorCode returns the remote API error code, or an empty string.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func hasCode(err error, codes map[string]struct{}) bool {
	code := strings.TrimSpace(ErrorCode(err))
	if code == "" {
		return false
	}
	_, ok := codes[code]
	return ok
}

func statusCode(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
