// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
)

// urlBuilder fills in resource links from named routes, remembering
// the first error.
type urlBuilder struct {
	Router *mux.Router
	Params []string
	Error  error
}

func buildURLs(router *mux.Router, params ...string) *urlBuilder {
	return &urlBuilder{Router: router, Params: params}
}

func (u *urlBuilder) route(name string) *mux.Route {
	r := u.Router.Get(name)
	if r == nil {
		u.Error = fmt.Errorf("no such route %q", name)
	}
	return r
}

func (u *urlBuilder) build(route string, params []string) *url.URL {
	if u.Error != nil {
		return nil
	}
	r := u.route(route)
	if r == nil {
		return nil
	}
	var out *url.URL
	out, u.Error = r.URL(params...)
	return out
}

// URL stores the URL of route in out.
func (u *urlBuilder) URL(out *string, route string) *urlBuilder {
	if url := u.build(route, u.Params); url != nil {
		*out = url.String()
	}
	return u
}

// Template stores a URI template for route in out, with param left
// as a {param} placeholder.
func (u *urlBuilder) Template(out *string, route, param string) *urlBuilder {
	const placeholder = "---"
	params := append([]string{param, placeholder}, u.Params...)
	if url := u.build(route, params); url != nil {
		*out = strings.Replace(url.String(), placeholder, "{"+param+"}", 1)
	}
	return u
}
