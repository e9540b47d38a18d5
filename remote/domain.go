// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package remote

import (
	"fmt"
	"strings"
)

// DomainID names a remote compute domain, optionally qualified by a
// secondary session.
type DomainID int

// Base compute domains.
const (
	ADSP DomainID = 0
	MDSP DomainID = 1
	SDSP DomainID = 2
	CDSP DomainID = 3
)

const (
	// NumDomains is the number of base compute domains.
	NumDomains = 4

	// SessionBit marks the secondary session of a base domain.
	SessionBit = 4

	// NumDomainsExtend counts base domains and their secondary
	// sessions.
	NumDomainsExtend = NumDomains * 2

	// DefaultDomain is used when nothing names a domain.
	DefaultDomain = ADSP

	domainMask = NumDomains - 1
)

var domainNames = [NumDomains]string{"adsp", "mdsp", "sdsp", "cdsp"}

// Valid reports whether d is one of the NumDomainsExtend slots.
func (d DomainID) Valid() bool {
	return d >= 0 && d < NumDomainsExtend
}

// Base strips the session qualifier.
func (d DomainID) Base() DomainID { return d & domainMask }

// Session returns 1 for a secondary session and 0 otherwise.
func (d DomainID) Session() int {
	if d&SessionBit != 0 {
		return 1
	}
	return 0
}

func (d DomainID) String() string {
	if !d.Valid() {
		return fmt.Sprintf("domain(%d)", int(d))
	}
	name := domainNames[d.Base()]
	if d.Session() != 0 {
		name += "-session1"
	}
	return name
}

// ParseDomain turns a base domain name ("adsp", "cdsp", ...) into
// its identifier.
func ParseDomain(name string) (DomainID, error) {
	for i, n := range domainNames {
		if strings.EqualFold(n, name) {
			return DomainID(i), nil
		}
	}
	return -1, ErrInvalidDomain
}

// Reserved handles are bound to fixed system interfaces and never
// enter the open-module table.
const (
	RemotectlHandle      uint32 = 0
	ListenerHandle       uint32 = 3
	CurrentProcessHandle uint32 = 4

	// MaxConstHandle bounds the reserved handle range.
	MaxConstHandle uint32 = 0xff
)

// IsConstHandle reports whether h falls in the reserved range.
func IsConstHandle(h uint32) bool { return h < MaxConstHandle }
