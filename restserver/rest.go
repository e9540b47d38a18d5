// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

// This file contains a small REST skeleton: content type negotiation,
// dispatch by HTTP method, and a standard mapping of handler results
// and errors onto HTTP statuses.

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/restdata"
)

var typeMap = map[string]string{
	"text/json":              restdata.V1JSONMediaType,
	"application/json":       restdata.V1JSONMediaType,
	restdata.JSONMediaType:   restdata.V1JSONMediaType,
	restdata.V1JSONMediaType: restdata.V1JSONMediaType,
}

// errBadAccept is returned from negotiateResponse() if the Accept:
// header is malformed.
var errBadAccept = errors.New("Invalid Accept: header")

// errNotAcceptable is returned from negotiateResponse() if the Accept:
// header does not mention any media types we can actually return.
type errNotAcceptable struct{}

func (e errNotAcceptable) Error() string {
	return "No acceptable representation for response"
}

func (e errNotAcceptable) HTTPStatus() int {
	return http.StatusNotAcceptable
}

// errMethodNotAllowed flags an HTTP method the resource does not
// handle.
type errMethodNotAllowed struct {
	Method string
}

func (e errMethodNotAllowed) Error() string {
	return fmt.Sprintf("Method %v not allowed", e.Method)
}

func (e errMethodNotAllowed) HTTPStatus() int {
	return http.StatusMethodNotAllowed
}

// remoteStatus picks an HTTP status for a transport error.
func remoteStatus(err error) int {
	switch {
	case errors.Is(err, remote.ErrInvalidDomain), errors.Is(err, remote.ErrBadHandle):
		return http.StatusNotFound
	case errors.Is(err, remote.ErrBadState), errors.Is(err, remote.ErrNotAllowed):
		return http.StatusConflict
	case errors.Is(err, remote.ErrBadParm):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type resourceHandler struct {
	// Representation, if non-nil, is the type of a request body.
	// A decoded copy is passed to Post.
	Representation interface{}

	// Context reads an HTTP request and produces a context object.
	Context func(req *http.Request) (*context, error)

	// Get, if non-nil, returns a representation of the object.
	Get func(*context) (interface{}, error)

	// Post, if non-nil, takes some action.  The return can be
	// any useful return value.
	Post func(*context, interface{}) (interface{}, error)

	// Delete, if non-nil, deletes the object.
	Delete func(*context) (interface{}, error)
}

func (h *resourceHandler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	// Recover from panics by sending an HTTP error.
	defer func() {
		if recovered := recover(); recovered != nil {
			response := restdata.ErrorResponse{}
			response.FromPanic(recovered)
			resp.Header().Set("Content-Type", restdata.V1JSONMediaType)
			resp.WriteHeader(http.StatusInternalServerError)
			_ = restdata.Encode(resp, response)
		}
	}()

	status := http.StatusBadRequest
	out, err := h.serve(req)
	responseType, nerr := negotiateResponse(req)
	if nerr != nil {
		// Gotta pick something
		responseType = restdata.V1JSONMediaType
		if err == nil {
			err = nerr
		}
	}

	if err != nil {
		var errS restdata.ErrorStatus
		if errors.As(err, &errS) {
			status = errS.HTTPStatus()
		} else {
			status = remoteStatus(err)
		}
		response := restdata.ErrorResponse{}
		response.FromError(err)
		out = response
	} else if out == nil {
		status = http.StatusNoContent
	} else {
		status = http.StatusOK
		if req.Method == http.MethodHead {
			out = nil
		}
	}

	if _, understood := typeMap[responseType]; !understood {
		responseType = restdata.V1JSONMediaType
	}
	if out != nil {
		resp.Header().Set("Content-Type", responseType)
	}
	resp.WriteHeader(status)
	if out != nil {
		// The status line is out; a failure here can only be
		// dropped.
		_ = restdata.Encode(resp, out)
	}
}

func (h *resourceHandler) serve(req *http.Request) (interface{}, error) {
	ctx, err := h.Context(req)
	if err != nil {
		return nil, err
	}

	var in interface{}
	if req.Method == http.MethodPost && h.Representation != nil && req.ContentLength != 0 {
		ptr := reflect.New(reflect.TypeOf(h.Representation))
		if err := restdata.Decode(req.Header.Get("Content-Type"), req.Body, ptr.Interface()); err != nil {
			return nil, err
		}
		in = ptr.Elem().Interface()
	}

	switch req.Method {
	case http.MethodGet, http.MethodHead:
		if h.Get != nil {
			return h.Get(ctx)
		}
	case http.MethodPost:
		if h.Post != nil {
			return h.Post(ctx, in)
		}
	case http.MethodDelete:
		if h.Delete != nil {
			return h.Delete(ctx)
		}
	}
	return nil, errMethodNotAllowed{Method: req.Method}
}

// negotiateResponse returns a supported MIME type for the response
// body, following the path laid out in RFC 7231 section 5.3.
func negotiateResponse(req *http.Request) (string, error) {
	accept := req.Header.Get("Accept")
	if accept == "" {
		accept = "*/*"
	}
	bestType := ""
	bestQ := 0.0
	for _, mediaRange := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(mediaRange))
		if err != nil {
			return "", restdata.ErrBadRequest{Err: err}
		}

		q := 1.0
		if qStr, haveQ := params["q"]; haveQ {
			q, err = strconv.ParseFloat(qStr, 64)
			if err != nil || q < 0.0 || q > 1.0 {
				return "", restdata.ErrBadRequest{Err: errBadAccept}
			}
		}
		if q < bestQ {
			continue
		}

		wildcard := bestType == "*/*" || bestType == "text/*" || bestType == "application/*"
		switch {
		case mediaType == "*/*":
			// Doesn't override anything.
			if q > bestQ {
				bestType, bestQ = mediaType, q
			}
		case mediaType == "text/*" || mediaType == "application/*":
			// Only overrides "*/*".
			if q > bestQ || bestType == "*/*" {
				bestType, bestQ = mediaType, q
			}
		default:
			// A known type overrides any wildcard; the first
			// one at a given q wins.
			if _, known := typeMap[mediaType]; known && (q > bestQ || wildcard) {
				bestType, bestQ = mediaType, q
			}
		}
	}
	if bestQ == 0.0 {
		return "", errNotAcceptable{}
	}
	switch bestType {
	case "*/*", "application/*":
		return restdata.V1JSONMediaType, nil
	case "text/*":
		return "text/json", nil
	}
	return bestType, nil
}
