// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"net/http"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/restdata"
	"github.com/gorilla/mux"
)

// context holds the objects named by URL parameters.
type context struct {
	Domain remote.DomainID
}

// domainByName finds the slot whose name is name, accepting the
// secondary session names as well as the base names.
func domainByName(name string) (remote.DomainID, error) {
	for id := remote.DomainID(0); id < remote.NumDomainsExtend; id++ {
		if id.String() == name {
			return id, nil
		}
	}
	if id, err := remote.ParseDomain(name); err == nil {
		return id, nil
	}
	return -1, restdata.ErrNotFound{Err: remote.ErrInvalidDomain}
}

func (api *restAPI) Context(req *http.Request) (ctx *context, err error) {
	ctx = &context{Domain: -1}
	if name, present := mux.Vars(req)["domain"]; present {
		ctx.Domain, err = domainByName(name)
	}
	return
}
