package rets

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a response whose tabular payload could not be
// parsed. Callers treat it as an empty result and log the anomaly.
var ErrMalformedResponse = errors.New("rets: malformed response")

// errUnauthorized is returned by a request step that got HTTP 401; withSession
// turns it into a retry or an AuthError.
var errUnauthorized = errors.New("rets: unauthorized")

// NetworkError is a transport failure, timeout, or unexpected HTTP status.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("rets %s failed: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("rets %s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError is a rejected login or a 401 that survived one session refresh.
type AuthError struct {
	Op         string
	ReplyCode  int
	ReplyText  string
	StatusCode int
}

func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("rets %s unauthorized: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("rets %s error %d: %s", e.Op, e.ReplyCode, e.ReplyText)
}

// ProtocolError is a non-zero reply code other than "no records found".
type ProtocolError struct {
	Op        string
	ReplyCode int
	ReplyText string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rets %s error %d: %s", e.Op, e.ReplyCode, e.ReplyText)
}

// IsNetworkError reports whether err is, or wraps, a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsAuthError reports whether err is, or wraps, an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
