// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package restserver publishes the status of a domain manager as a
// REST service.  The restclient package is a matching client.
//
// The data structures are defined in the restdata package.  The URLs
// described here are not part of the API; clients start from the root
// document and follow its links.
//
// # MIME Types
//
// This interface understands MIME types as follows:
//
//	application/vnd.diffeo.fastrpc.v1+json
//
// JSON representation of version 1 of this interface.
//
//	application/vnd.diffeo.fastrpc+json
//	application/json
//	text/json
//
// JSON representation of latest version of this interface.
//
// # URL Scheme
//
// The following URLs are defined:
//
//	/
//	/domain
//	/domain/{domain}
//	/domain/{domain}/restart
package restserver
