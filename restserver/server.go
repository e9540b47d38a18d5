// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"net/http"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/restdata"
	"github.com/gorilla/mux"
)

// NewRouter creates a new HTTP handler that serves the status of m.
// All resources are under the URL path root.  For more control over
// this setup, create a mux.Router and call PopulateRouter instead.
func NewRouter(m *domain.Manager) http.Handler {
	r := mux.NewRouter()
	PopulateRouter(r, m)
	return r
}

// PopulateRouter adds the status routes to an existing
// github.com/gorilla/mux router object.  This can be used, for
// instance, to place the interface under a subpath:
//
//	r := mux.NewRouter()
//	s := r.PathPrefix("/fastrpc").Subrouter()
//	PopulateRouter(s, manager)
func PopulateRouter(r *mux.Router, m *domain.Manager) {
	api := &restAPI{Manager: m, Router: r}
	api.PopulateRouter(r)
}

// restAPI holds the persistent state for the REST API.
type restAPI struct {
	Manager *domain.Manager
	Router  *mux.Router
}

// PopulateRouter adds all URL paths to a router.
func (api *restAPI) PopulateRouter(r *mux.Router) {
	api.PopulateDomain(r)
	r.Path("/").Name("root").Handler(&resourceHandler{
		Context: api.Context,
		Get:     api.RootDocument,
	})
}

func (api *restAPI) RootDocument(ctx *context) (interface{}, error) {
	resp := restdata.RootData{}
	err := buildURLs(api.Router).
		URL(&resp.DomainsURL, "domains").
		Template(&resp.DomainURL, "domain", "domain").
		Error
	return resp, err
}
