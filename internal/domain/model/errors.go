package model

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies failures crossing a collaborator boundary.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	// KindNetwork covers transport failures and timeouts.
	KindNetwork  ErrorKind = "network"
	KindNotFound ErrorKind = "not-found"
	// KindUpstream means the analytics collaborator answered with an error payload.
	KindUpstream ErrorKind = "upstream-model-error"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrValidation = errors.New("validation failed")
	ErrNetwork    = errors.New("network failure")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream model error")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation: ErrValidation,
	KindNetwork:    ErrNetwork,
	KindNotFound:   ErrNotFound,
	KindUpstream:   ErrUpstream,
}

// Error is a classified failure of operation Op.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the failing operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error from a formatted reason.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// Reason is the human readable part without the operation prefix.
func (e *Error) Reason() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// KindOf classifies err. Context expiry and net.Error count as network;
// anything else unclassified is reported as an upstream error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUpstream
}

// FacetError is the failure recorded in a view slot.
type FacetError struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

func (f *FacetError) Error() string { return fmt.Sprintf("%s: %s", f.Kind, f.Reason) }

// AsFacetError converts any error into the slot representation.
func AsFacetError(err error) *FacetError {
	if err == nil {
		return nil
	}
	var fe *FacetError
	if errors.As(err, &fe) {
		return fe
	}
	var e *Error
	if errors.As(err, &e) {
		return &FacetError{Kind: e.Kind, Reason: e.Reason()}
	}
	return &FacetError{Kind: KindOf(err), Reason: err.Error()}
}
