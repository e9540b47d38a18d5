// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package backend provides a standard way to choose a device
// implementation based on command-line flags.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/diffeo/go-fastrpc/chardev"
	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/memory"
	"github.com/diffeo/go-fastrpc/props"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Backend describes user-visible parameters to reach remote domains.
// This implements the flag.Value interface, and so a typical use is
//
//	func main() {
//		backend := backend.Backend{Implementation: "chardev"}
//		flag.Var(&backend, "backend", "impl[:address] of the device")
//		flag.Parse()
//		opener, err := backend.Opener(nil, props.Tuning{})
//	}
type Backend struct {
	// Implementation holds the name of the implementation: "memory"
	// for in-process emulation or "chardev" for the kernel device.
	Implementation string

	// Address holds a backend-specific address.  For "chardev" it
	// names a single device node to use for every domain instead of
	// the usual search.
	Address string
}

// Opener creates the device opener.  Calling this more than once with
// "memory" creates independent emulated worlds.
func (b *Backend) Opener(log *logrus.Logger, tuning props.Tuning) (domain.Opener, error) {
	switch b.Implementation {
	case "memory":
		return memory.New(), nil
	case "chardev":
		o := &chardev.Opener{Logger: log, HeapFlags: tuning.HeapFlags}
		if b.Address != "" {
			node := b.Address
			o.OpenFile = func(string) (int, error) {
				return unix.Open(node, unix.O_RDWR|unix.O_CLOEXEC, 0)
			}
		}
		return o, nil
	}
	return nil, fmt.Errorf("unknown backend %q", b.Implementation)
}

// String renders a backend description as a string.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set parses a string into an existing backend description.  The
// string should be of the form "implementation[:address]".  Set checks
// that the implementation is known, but not that the address works.
//
// This is part of the flag.Value interface.
func (b *Backend) Set(param string) error {
	if param == "" {
		return errors.New("must specify a backend type")
	}
	impl, addr, _ := strings.Cut(param, ":")
	switch impl {
	case "memory", "chardev":
	default:
		return fmt.Errorf("unknown backend %q", impl)
	}
	b.Implementation = impl
	b.Address = addr
	return nil
}
