// Package errors defines the typed failure taxonomy used across the
// monitor. Every transport or parse failure is converted into a
// *ClusterError at the boundary where it is first observed; nothing
// downstream inspects error message text.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionFailed = errors.New("connection failed")
	ErrNoConnection     = errors.New("no active connection")
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConnectivity: the cluster cannot be reached at all.
	ErrorTypeConnectivity ErrorType = "connectivity"
	// ErrorTypeTimeout: the request ran into its deadline; whether this is
	// a connectivity problem is decided by a follow-up health probe.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeAPI: the cluster answered with a non-2xx status.
	ErrorTypeAPI ErrorType = "api"
	// ErrorTypeParse: the cluster answered but the body was not decodable.
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeConfig: no active connection or invalid configuration.
	ErrorTypeConfig ErrorType = "config"
)

// ClusterError is a structured error for cluster operations.
type ClusterError struct {
	Type       ErrorType
	Op         string // operation that failed, e.g. "cat_nodes"
	Endpoint   string // base URL of the connection
	Err        error  // underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
}

func (e *ClusterError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("%s failed against %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ClusterError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support for the base error types.
func (e *ClusterError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnectivity
	}
	return errors.Is(e.Err, target)
}

// New creates a ClusterError of the given type.
func New(errorType ErrorType, op, endpoint string, err error) *ClusterError {
	return &ClusterError{
		Type:      errorType,
		Op:        op,
		Endpoint:  endpoint,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithStatusCode attaches the HTTP status code to the error.
func (e *ClusterError) WithStatusCode(code int) *ClusterError {
	e.StatusCode = code
	return e
}

// TypeOf extracts the error category; errors that never went through this
// package count as internal API failures.
func TypeOf(err error) ErrorType {
	var ce *ClusterError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeAPI
}

// IsConnectivity reports whether the cluster is considered unreachable.
func IsConnectivity(err error) bool {
	return TypeOf(err) == ErrorTypeConnectivity
}

// IsTimeout reports whether the request hit its deadline.
func IsTimeout(err error) bool {
	return TypeOf(err) == ErrorTypeTimeout
}

// IsConfig reports a configuration error (such as no active connection).
func IsConfig(err error) bool {
	if errors.Is(err, ErrNoConnection) {
		return true
	}
	return TypeOf(err) == ErrorTypeConfig
}
