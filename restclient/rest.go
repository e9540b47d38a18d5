// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restclient

// This file provides generic REST client code.

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/diffeo/go-fastrpc/restdata"
	"github.com/jtacoma/uritemplates"
)

// resource is any object that has a URL.
type resource struct {
	URL    *url.URL
	Client *http.Client
}

// Template expands a URI template with vars and resolves the result
// relative to the resource's URL.
func (r *resource) Template(template string, vars map[string]interface{}) (*url.URL, error) {
	tmpl, err := uritemplates.Parse(template)
	if err != nil {
		return nil, err
	}
	expanded, err := tmpl.Expand(vars)
	if err != nil {
		return nil, err
	}
	return r.URL.Parse(expanded)
}

// Do performs some HTTP action.  If in is non-nil, it is serialized
// as the body of the request.  If out is non-nil, the response data
// (if any) is deserialized into this object, which must be of pointer
// type.
func (r *resource) Do(method string, url *url.URL, in, out interface{}) (err error) {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err = restdata.Encode(&buf, in); err != nil {
			return err
		}
		body = &buf
	}

	req, err := http.NewRequest(method, url.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", restdata.V1JSONMediaType)
	}
	if out != nil {
		req.Header.Set("Accept", restdata.V1JSONMediaType)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); err == nil {
			err = cerr
		}
	}()

	if err = checkHTTPStatus(resp); err != nil {
		return err
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		err = restdata.Decode(resp.Header.Get("Content-Type"), resp.Body, out)
	}
	return err
}

// Get retrieves the resource from its own URL into out.
func (r *resource) Get(out interface{}) error {
	return r.Do(http.MethodGet, r.URL, nil, out)
}

// GetFrom retrieves a resource from some other URL.  template is
// interpreted as a URI template, modified by vars, and the result
// taken relative to the resource's URL.
func (r *resource) GetFrom(template string, vars map[string]interface{}, out interface{}) error {
	url, err := r.Template(template, vars)
	if err == nil {
		err = r.Do(http.MethodGet, url, nil, out)
	}
	return err
}

// PostTo submits data to a service at some other URL, as GetFrom.
func (r *resource) PostTo(template string, vars map[string]interface{}, in, out interface{}) error {
	url, err := r.Template(template, vars)
	if err == nil {
		err = r.Do(http.MethodPost, url, in, out)
	}
	return err
}

// DeleteAt deletes the resource at some other URL, as GetFrom.
func (r *resource) DeleteAt(template string, vars map[string]interface{}) error {
	url, err := r.Template(template, vars)
	if err == nil {
		err = r.Do(http.MethodDelete, url, nil, nil)
	}
	return err
}

// ErrorHTTP is a catch-all error for non-successes returned from the
// REST endpoint.
type ErrorHTTP struct {
	// Response holds a pointer to the failing HTTP response.
	Response *http.Response

	// Body holds the contents of the message body, presumed to
	// be text.
	Body string
}

func (e ErrorHTTP) Error() string {
	return e.Response.Status
}

// checkHTTPStatus examines an HTTP response and returns an error if
// it is not successful.
func checkHTTPStatus(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}

	// Collect the entire body; it is the fallback if it does not
	// decode as an error response.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var errResp restdata.ErrorResponse
	contentType := resp.Header.Get("Content-Type")
	if restdata.Decode(contentType, bytes.NewReader(body), &errResp) == nil {
		return errResp.ToError()
	}
	return ErrorHTTP{Response: resp, Body: string(body)}
}
