// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package restclient is an HTTP client for the domain status service
// in the restserver package.
//
// The fastrpcd daemon runs a compatible server.  Call New() with the
// base URL of that service; for instance,
//
//	c, err := restclient.New("http://localhost:5980/")
package restclient

import (
	"net/http"
	"net/url"

	"github.com/diffeo/go-fastrpc/restdata"
)

// Client talks to a status service.
type Client struct {
	resource
	Representation restdata.RootData
}

// New connects to the service at baseURL and reads its root document.
// If client is nil, http.DefaultClient is used.
func New(baseURL string, client *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{resource: resource{URL: u, Client: client}}
	if err = c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh rereads the root document.
func (c *Client) Refresh() error {
	c.Representation = restdata.RootData{}
	return c.Get(&c.Representation)
}

// Domains returns the status of every domain slot.
func (c *Client) Domains() ([]restdata.Domain, error) {
	var list restdata.DomainList
	if err := c.GetFrom(c.Representation.DomainsURL, nil, &list); err != nil {
		return nil, err
	}
	result := make([]restdata.Domain, len(list.Domains))
	for i, short := range list.Domains {
		if err := c.GetFrom(short.URL, nil, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Domain returns the status of the named domain.
func (c *Client) Domain(name string) (restdata.Domain, error) {
	var d restdata.Domain
	err := c.GetFrom(c.Representation.DomainURL, map[string]interface{}{"domain": name}, &d)
	return d, err
}

// Restart tears down the named domain's session and opens it again,
// returning its new status.
func (c *Client) Restart(name string) (restdata.Domain, error) {
	d, err := c.Domain(name)
	if err != nil {
		return d, err
	}
	var after restdata.Domain
	err = c.PostTo(d.RestartURL, nil, nil, &after)
	return after, err
}

// CloseDomain tears down the named domain's session.
func (c *Client) CloseDomain(name string) error {
	return c.DeleteAt(c.Representation.DomainURL, map[string]interface{}{"domain": name})
}
