// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restdata

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/diffeo/go-fastrpc/remote"
)

// ErrorStatus describes errors that correspond to specific HTTP status
// codes.
type ErrorStatus interface {
	// HTTPStatus returns the HTTP status code for this error.
	HTTPStatus() int
}

// ErrUnsupportedMediaType is returned from Decode() if the provided
// Content-Type: is unrecognized.  This translates directly into the
// equivalent HTTP 415 error.
type ErrUnsupportedMediaType struct {
	Type string
}

func (e ErrUnsupportedMediaType) Error() string {
	return fmt.Sprintf("Unsupported media type %q", e.Type)
}

// HTTPStatus returns a fixed 415 Unsupported Media Type error code.
func (e ErrUnsupportedMediaType) HTTPStatus() int {
	return http.StatusUnsupportedMediaType
}

// ErrNotFound is a wrapper error that indicates that, due to the
// embedded error, a REST service should return a 404 Not Found error.
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return e.Err.Error()
}

// Unwrap returns the embedded error.
func (e ErrNotFound) Unwrap() error { return e.Err }

// HTTPStatus returns a fixed 404 Not Found error code.
func (e ErrNotFound) HTTPStatus() int {
	return http.StatusNotFound
}

// ErrBadRequest is returned as an error when there is an error decoding
// HTTP headers or the request body.
type ErrBadRequest struct {
	Err error
}

func (e ErrBadRequest) Error() string {
	return e.Err.Error()
}

// Unwrap returns the embedded error.
func (e ErrBadRequest) Unwrap() error { return e.Err }

// HTTPStatus returns a fixed 400 Bad Request HTTP status code.
func (e ErrBadRequest) HTTPStatus() int {
	return http.StatusBadRequest
}

// ErrorResponse is the body of a failing response.
type ErrorResponse struct {
	// Error is a short code: "remote" for a transport status
	// code, "panic", or "error".
	Error string `json:"error"`

	// Message is the human-readable error text.
	Message string `json:"message"`

	// Code is the transport status code when Error is "remote".
	Code int32 `json:"code,omitempty"`

	// Stack is the server stack trace of a panic.
	Stack string `json:"stack,omitempty"`
}

// FromError populates an ErrorResponse from an error value.  Errors
// carrying a transport status code keep it.
func (e *ErrorResponse) FromError(err error) {
	e.Message = err.Error()
	var rerr remote.Error
	if errors.As(err, &rerr) {
		e.Error = "remote"
		e.Code = int32(rerr)
		return
	}
	e.Error = "error"
}

// ToError converts e back to an error.  Transport errors come back
// as the matching remote.Error value.
func (e *ErrorResponse) ToError() error {
	if e.Error == "remote" {
		return remote.FromCode(e.Code)
	}
	return errors.New(e.Message)
}

// FromPanic populates an error response based on a panic.
func (e *ErrorResponse) FromPanic(obj interface{}) {
	e.Error = "panic"
	if recoveredError, isError := obj.(error); isError {
		e.Message = recoveredError.Error()
	} else {
		e.Message = fmt.Sprintf("%+v", obj)
	}
	var stack [4096]byte
	n := runtime.Stack(stack[:], false)
	e.Stack = string(stack[:n])
}
