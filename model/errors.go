package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind categorizes model failures.
type ErrorKind string

const (
	// KindAuth is a rejected credential (HTTP 401/403).
	KindAuth ErrorKind = "auth"
	// KindTimeout is a deadline exceeded while waiting for the model.
	KindTimeout ErrorKind = "timeout"
	// KindGeneric is any other provider failure.
	KindGeneric ErrorKind = "generic"
)

// Code returns the client-facing error code for the kind.
func (k ErrorKind) Code() string {
	switch k {
	case KindAuth:
		return "INVALID_API_KEY"
	case KindTimeout:
		return "LLM_TIMEOUT"
	default:
		return "LLM_SERVICE_ERROR"
	}
}

// Error is a classified model failure.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int // 0 when the failure did not come from an HTTP response
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s model error (%s, status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s model error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err into an *Error. status is the HTTP status reported by
// the provider SDK, or 0 if unknown. An err that already is an *Error is
// returned unchanged.
func Classify(provider string, status int, err error) *Error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}

	kind := KindGeneric
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case isTimeout(err):
		kind = KindTimeout
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

// KindOf returns the kind of a classified error, or KindGeneric.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindGeneric
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
