// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package remote

import (
	"errors"
	"fmt"
)

// Error is a transport status code.  Codes travel over the wire as
// the int32 result of a call, so their values are stable.
type Error int32

// Status codes.  Zero is success and is represented by a nil error.
const (
	ErrFailed Error = iota + 1
	ErrNoMemory
	ErrBadParm
	ErrBadScalars
	ErrBufferTooSmall
	ErrNoSuchModule
	ErrBadHandle
	ErrInvalidDomain
	ErrInvalidDevice
	ErrOutOfHandles
	ErrNotAllowed
	ErrUnsupported
	ErrBadState
	ErrDeviceClosed
)

var errorText = map[Error]string{
	ErrFailed:         "general failure",
	ErrNoMemory:       "out of memory",
	ErrBadParm:        "invalid parameter",
	ErrBadScalars:     "scalars count out of range",
	ErrBufferTooSmall: "output buffer too small",
	ErrNoSuchModule:   "no such module",
	ErrBadHandle:      "invalid handle",
	ErrInvalidDomain:  "invalid domain",
	ErrInvalidDevice:  "device unavailable",
	ErrOutOfHandles:   "out of handles",
	ErrNotAllowed:     "operation not allowed",
	ErrUnsupported:    "operation not supported",
	ErrBadState:       "bad state",
	ErrDeviceClosed:   "device closed",
}

func (e Error) Error() string {
	if text, ok := errorText[e]; ok {
		return text
	}
	return fmt.Sprintf("remote error %d", int32(e))
}

// Code converts an error to the integer result sent over the wire.
// Errors that do not wrap an Error become ErrFailed.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	var e Error
	if errors.As(err, &e) {
		return int32(e)
	}
	return int32(ErrFailed)
}

// FromCode is the inverse of Code.
func FromCode(code int32) error {
	if code == 0 {
		return nil
	}
	return Error(code)
}

// ModuleError is returned when a module URI cannot be resolved by any
// of the registration tables or the dynamic loader.
type ModuleError struct {
	// URI is the module URI the caller asked for.
	URI string

	// LoadError is the diagnostic of the dynamic loader, if it
	// was tried.
	LoadError string
}

func (err ModuleError) Error() string {
	if err.LoadError == "" {
		return fmt.Sprintf("no such module %q", err.URI)
	}
	return fmt.Sprintf("no such module %q: %s", err.URI, err.LoadError)
}

// Unwrap makes ModuleError match ErrNoSuchModule.
func (err ModuleError) Unwrap() error { return ErrNoSuchModule }

// DomainError reports a failure that tore down one domain's session.
type DomainError struct {
	Domain DomainID
	Op     string
	Err    error
}

func (err DomainError) Error() string {
	return fmt.Sprintf("%v: %s: %v", err.Domain, err.Op, err.Err)
}

// Unwrap returns the underlying error.
func (err DomainError) Unwrap() error { return err.Err }
