package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// NetworkErrorKind classifies transfer failures for user messaging.
type NetworkErrorKind int

const (
	NetworkUnknown NetworkErrorKind = iota
	NetworkNotConnectedToInternet
	NetworkInternationalRoamingOff
	NetworkConnectionLost
	NetworkServerNotReachable
	NetworkServerError
)

func (k NetworkErrorKind) String() string {
	switch k {
	case NetworkNotConnectedToInternet:
		return "not connected to internet"
	case NetworkInternationalRoamingOff:
		return "international roaming off"
	case NetworkConnectionLost:
		return "connection lost"
	case NetworkServerNotReachable:
		return "server not reachable"
	case NetworkServerError:
		return "server error"
	default:
		return "unknown network error"
	}
}

// NetworkError is a classified transfer failure.
type NetworkError struct {
	Kind    NetworkErrorKind
	Message string
	Err     error
}

// NewServerError reports an unexpected reply from the server.
func NewServerError(format string, args ...interface{}) *NetworkError {
	return &NetworkError{Kind: NetworkServerError, Message: fmt.Sprintf(format, args...)}
}

func (e *NetworkError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError maps a transfer error onto a NetworkError.
// Errors that are already classified are returned unchanged.
func ClassifyNetworkError(err error) *NetworkError {
	if err == nil {
		return nil
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}

	kind := NetworkUnknown
	var dnsErr *net.DNSError
	var timeout interface{ Timeout() bool }
	switch {
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.ENETDOWN):
		kind = NetworkNotConnectedToInternet
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED), errors.Is(err, io.ErrUnexpectedEOF):
		kind = NetworkConnectionLost
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH):
		kind = NetworkServerNotReachable
	case errors.As(err, &dnsErr):
		kind = NetworkServerNotReachable
	case errors.As(err, &timeout) && timeout.Timeout():
		kind = NetworkServerNotReachable
	}
	return &NetworkError{Kind: kind, Err: err}
}
