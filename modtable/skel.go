// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package modtable

import (
	"fmt"

	"github.com/diffeo/go-fastrpc/remote"
)

// Skel is a module entry point.  It is either Stateless or Scoped.
type Skel interface {
	skel()
}

// Stateless is an entry point that needs no per-open state.
type Stateless func(sc remote.Scalars, args []remote.Arg) error

// Scoped is an entry point that is first opened, receiving a handle
// it then gets back on every call.  Method ScopedOpen receives the
// module URI and returns the handle; method ScopedClose releases it.
type Scoped func(h uint64, sc remote.Scalars, args []remote.Arg) error

func (Stateless) skel() {}
func (Scoped) skel()    {}

// Reserved methods of a Scoped entry point.
var (
	// ScopedOpen has one input buffer (the URI) and one output
	// handle.
	ScopedOpen = remote.MustScalars(0, 1, 0, 0, 1)

	// ScopedClose has one input handle.
	ScopedClose = remote.MustScalars(1, 0, 0, 1, 0)
)

// IsOpen reports whether sc is the reserved open method.
func IsOpen(sc remote.Scalars) bool { return sc == ScopedOpen }

// IsClose reports whether sc is the reserved close method.
func IsClose(sc remote.Scalars) bool { return sc == ScopedClose }

func call(skel Skel, h uint64, sc remote.Scalars, args []remote.Arg) error {
	if err := sc.Check(args); err != nil {
		return err
	}
	switch fn := skel.(type) {
	case Stateless:
		return fn(sc, args)
	case Scoped:
		return fn(h, sc, args)
	}
	return remote.ErrBadHandle
}

func openScoped(fn Scoped, uri string) (uint64, error) {
	args := []remote.Arg{remote.BufArg([]byte(uri)), {}}
	if err := fn(0, ScopedOpen, args); err != nil {
		return 0, err
	}
	return args[1].Handle, nil
}

func closeScoped(fn Scoped, h uint64) error {
	return fn(h, ScopedClose, []remote.Arg{remote.HandleArg(h)})
}

// skelFromSymbol converts a symbol found by a Loader into an entry
// point.
func skelFromSymbol(sym interface{}) (Skel, error) {
	switch v := sym.(type) {
	case Skel:
		return v, nil
	case *Stateless:
		return *v, nil
	case *Scoped:
		return *v, nil
	case func(remote.Scalars, []remote.Arg) error:
		return Stateless(v), nil
	case func(uint64, remote.Scalars, []remote.Arg) error:
		return Scoped(v), nil
	case *func(remote.Scalars, []remote.Arg) error:
		return Stateless(*v), nil
	case *func(uint64, remote.Scalars, []remote.Arg) error:
		return Scoped(*v), nil
	}
	return nil, fmt.Errorf("symbol of type %T is not an entry point", sym)
}
