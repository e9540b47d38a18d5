// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package restdata defines the data structures shared between the
// restserver and restclient packages.  JSON encodings of these are
// passed across the wire as the application/vnd.diffeo.fastrpc.v1+json
// MIME type.
//
// # API Usage
//
// HTTP GET the root document.  This returns a JSON serialization of
// RootData, which links to the other resources; follow these links,
// filling in template values, to reach them.  Some URL fields are RFC
// 6570 URI templates with a {parameter} in curly braces.  If the
// service is rooted at /, RootData looks like
//
//	{
//	    "domains_url": "/domain",
//	    "domain_url": "/domain/{domain}"
//	}
//
// The URL structure is not part of the API contract; only the root
// document's shape is.
//
// Domains are named as in log output: "adsp", "cdsp", and
// "adsp-session1" for a secondary session.
//
// # HTTP Considerations
//
// A domain supports GET and DELETE; DELETE tears down the domain's
// session, and the next use of the domain starts a fresh one.  The
// restart action supports POST, which tears the session down and
// opens it again at once.  Any resource that supports GET also
// supports HEAD.
//
// # Errors
//
// Errors are returned as encodings of ErrorResponse with a failing
// HTTP status.  Transport errors round-trip as their status codes.
// If server code panics, the panic is returned as an ErrorResponse
// with error code "panic".
package restdata

// V1JSONMediaType is the preferred, most specific MIME type for the
// JSON representation of this content.
const V1JSONMediaType = "application/vnd.diffeo.fastrpc.v1+json"

// JSONMediaType requests the most recent version of the JSON
// representation of this content.
const JSONMediaType = "application/vnd.diffeo.fastrpc+json"

// Resource is a base type for all resources in this package.
type Resource struct {
	// URL points at this resource.  In a "short" record, the
	// contents of this URL are the full record.
	URL string `json:"url"`
}

// RootData is the root document.
type RootData struct {
	// DomainsURL points at the domain list.
	DomainsURL string `json:"domains_url"`

	// DomainURL is a template for a single domain, with the
	// parameter "domain".
	DomainURL string `json:"domain_url"`
}

// DomainShort is the brief form of a domain.
type DomainShort struct {
	Resource
	Name string `json:"name"`
}

// DomainList is the list of every domain slot.
type DomainList struct {
	Domains []DomainShort `json:"domains"`
}

// Domain is the complete status of one domain.
type Domain struct {
	DomainShort

	// State is one of "closed", "opening", "ready" or "closing".
	State string `json:"state"`

	// Mode names how the next (or current) session reaches the
	// remote process.
	Mode string `json:"mode"`

	// Handles counts the module handles open on the domain.
	Handles int `json:"handles"`

	// Invokes and Opens count calls and session opens since the
	// process started.
	Invokes uint64 `json:"invokes"`
	Opens   uint64 `json:"opens"`

	// PMQoS reports whether the power-management latency vote
	// is running; AdaptiveQoS whether the remote side adapts its
	// own latency.
	PMQoS       bool `json:"pm_qos"`
	AdaptiveQoS bool `json:"adaptive_qos"`

	// RestartURL accepts POST to restart the domain's session.
	RestartURL string `json:"restart_url"`
}
