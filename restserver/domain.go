// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/restdata"
	"github.com/gorilla/mux"
)

func (api *restAPI) fillDomainShort(id remote.DomainID, short *restdata.DomainShort) error {
	short.Name = id.String()
	return buildURLs(api.Router, "domain", short.Name).
		URL(&short.URL, "domain").
		Error
}

func (api *restAPI) fillDomain(st domain.Stats, repr *restdata.Domain) error {
	err := api.fillDomainShort(st.Domain, &repr.DomainShort)
	if err == nil {
		err = buildURLs(api.Router, "domain", repr.Name).
			URL(&repr.RestartURL, "domainRestart").
			Error
	}
	repr.State = st.State
	repr.Mode = st.Mode.String()
	repr.Handles = st.Handles
	repr.Invokes = st.Invokes
	repr.Opens = st.Opens
	repr.PMQoS = st.PMQoS
	repr.AdaptiveQoS = st.Adaptive
	return err
}

func (api *restAPI) stats(id remote.DomainID) (domain.Stats, error) {
	for _, st := range api.Manager.Stats() {
		if st.Domain == id {
			return st, nil
		}
	}
	return domain.Stats{}, restdata.ErrNotFound{Err: remote.ErrInvalidDomain}
}

// DomainList lists every domain slot.
func (api *restAPI) DomainList(ctx *context) (interface{}, error) {
	stats := api.Manager.Stats()
	result := restdata.DomainList{Domains: make([]restdata.DomainShort, len(stats))}
	for i, st := range stats {
		if err := api.fillDomainShort(st.Domain, &result.Domains[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// DomainGet returns the status of one domain.
func (api *restAPI) DomainGet(ctx *context) (interface{}, error) {
	st, err := api.stats(ctx.Domain)
	if err != nil {
		return nil, err
	}
	result := restdata.Domain{}
	err = api.fillDomain(st, &result)
	return result, err
}

// DomainDelete tears down the domain's session.
func (api *restAPI) DomainDelete(ctx *context) (interface{}, error) {
	return nil, api.Manager.CloseDomain(ctx.Domain)
}

// DomainRestart tears down the domain's session and opens a new one.
func (api *restAPI) DomainRestart(ctx *context, in interface{}) (interface{}, error) {
	if err := api.Manager.CloseDomain(ctx.Domain); err != nil {
		return nil, err
	}
	if _, err := api.Manager.OpenDev(ctx.Domain); err != nil {
		return nil, err
	}
	return api.DomainGet(ctx)
}

// PopulateDomain adds the domain routes to a router.
func (api *restAPI) PopulateDomain(r *mux.Router) {
	r.Path("/domain").Name("domains").Handler(&resourceHandler{
		Context: api.Context,
		Get:     api.DomainList,
	})
	r.Path("/domain/{domain}").Name("domain").Handler(&resourceHandler{
		Context: api.Context,
		Get:     api.DomainGet,
		Delete:  api.DomainDelete,
	})
	r.Path("/domain/{domain}/restart").Name("domainRestart").Handler(&resourceHandler{
		Context: api.Context,
		Post:    api.DomainRestart,
	})
}
