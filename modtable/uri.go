// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package modtable

import (
	"path"
	"strings"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/jtacoma/uritemplates"
)

const fileScheme = "file://"

// canonical renders a parsed module URI back into its normal form.
var canonical = mustTemplate("file://{+path}?{symbol}{&_modver,_dom,_session}")

func mustTemplate(s string) *uritemplates.UriTemplate {
	t, err := uritemplates.Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// URI is a parsed module URI of the form
//
//	file://<path>?<symbol>[&_modver=<major>.<minor>][&_dom=<domain>][&_session=<n>]
//
// A string without the file:// prefix is a bare module name and may
// carry the same query parameters.
type URI struct {
	// Raw is the string that was parsed.
	Raw string

	// Name is the module name: the library base name without a
	// "lib" prefix or "_skel.so" suffix, or the bare name.
	Name string

	// Path is the library to load, synthesized from Name when the
	// URI does not give one.
	Path string

	// Symbol is the entry point, synthesized from Name when the URI
	// does not give one.
	Symbol string

	// Version is the _modver parameter.  Version "1.0" selects a
	// handle-scoped entry point.
	Version string

	// Domain and Session carry the _dom and _session parameters.
	Domain  string
	Session string
}

// ParseURI parses a module URI.
func ParseURI(s string) (URI, error) {
	u := URI{Raw: s}
	rest := s
	isFile := strings.HasPrefix(rest, fileScheme)
	if isFile {
		rest = rest[len(fileScheme):]
	}
	base, query := rest, ""
	if i := strings.IndexAny(rest, "?&"); i >= 0 {
		base, query = rest[:i], rest[i+1:]
	}
	for i, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		k, v, hasValue := strings.Cut(part, "=")
		if !hasValue {
			if i == 0 && isFile {
				u.Symbol = part
			}
			continue
		}
		switch k {
		case "_modver":
			u.Version = v
		case "_dom":
			u.Domain = v
		case "_session":
			u.Session = v
		}
	}
	if isFile {
		u.Path = base
		u.Name = moduleName(base)
	} else {
		u.Name = base
	}
	if u.Name == "" {
		if u.Symbol == "" {
			return u, remote.ErrBadParm
		}
		u.Name = strings.TrimSuffix(u.Symbol, "_skel_handle_invoke")
		u.Name = strings.TrimSuffix(u.Name, "_skel_invoke")
	}
	if u.Path == "" {
		u.Path = "lib" + u.Name + "_skel.so"
	}
	if u.Symbol == "" {
		if u.Scoped() {
			u.Symbol = u.Name + "_skel_handle_invoke"
		} else {
			u.Symbol = u.Name + "_skel_invoke"
		}
	}
	return u, nil
}

func moduleName(p string) string {
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	name = strings.TrimPrefix(name, "lib")
	name = strings.TrimSuffix(name, ".so")
	return strings.TrimSuffix(name, "_skel")
}

// Scoped reports whether the URI asks for a handle-scoped entry point.
func (u URI) Scoped() bool { return u.Version == "1.0" }

// String returns the canonical form of u.
func (u URI) String() string {
	vars := map[string]interface{}{
		"path":   u.Path,
		"symbol": u.Symbol,
	}
	if u.Version != "" {
		vars["_modver"] = u.Version
	}
	if u.Domain != "" {
		vars["_dom"] = u.Domain
	}
	if u.Session != "" {
		vars["_session"] = u.Session
	}
	s, err := canonical.Expand(vars)
	if err != nil {
		return u.Raw
	}
	return s
}
