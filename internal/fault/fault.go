// Package fault classifies failures of remote and local operations so that
// upload and commit errors are reported the same way.
package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
)

// Kind is the classification of a failure.
type Kind string

const (
	// KindNetwork means the server could not be reached or the transfer broke
	// off. It is the only transient kind.
	KindNetwork Kind = "network"

	// KindAuthorization means the token was refused; the user must log in again.
	KindAuthorization Kind = "authorization"

	// KindRejected means the server understood the request and refused it.
	KindRejected Kind = "rejected"

	// KindLocalIO means a local file could not be read or written.
	KindLocalIO Kind = "local_io"
)

// Description returns a short human readable label.
func (k Kind) Description() string {
	switch k {
	case KindNetwork:
		return "network unreachable"
	case KindAuthorization:
		return "authorization expired"
	case KindRejected:
		return "rejected by server"
	case KindLocalIO:
		return "local file error"
	default:
		return string(k)
	}
}

// Transient reports whether an operation failing with this kind may succeed
// when repeated unchanged.
func (k Kind) Transient() bool {
	return k == KindNetwork
}

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "upload IMG_0001.JPG"
	Status int    // HTTP status, 0 when no response was received
	Detail string // server provided detail, if any
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Description()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify returns the kind of err. Errors that carry no classification are
// treated as network failures when they come from the transport and as
// rejections otherwise.
func Classify(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return KindLocalIO
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	return KindRejected
}

// Wrap classifies err and attaches op. An already classified error keeps its
// kind, status and detail.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return &Error{Kind: fe.Kind, Op: op, Status: fe.Status, Detail: fe.Detail, Err: fe.Err}
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && Classify(err).Transient()
}
