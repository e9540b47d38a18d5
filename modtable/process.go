// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package modtable

import (
	"github.com/diffeo/go-fastrpc/pls"
	"github.com/diffeo/go-fastrpc/remote"
)

type processKey struct{}

// Process returns the process-wide table, creating it in process
// local storage on first use.  It loads dynamic modules as Go
// plugins.
func Process() *Table {
	t, err := pls.Get(pls.Process(), processKey{}, 0, func() (*Table, error) {
		return New(PluginLoader{}), nil
	}, (*Table).Shutdown)
	if err != nil {
		// The process storage was closed under us; hand back a
		// detached table rather than nil.
		return New(PluginLoader{})
	}
	return t
}

// RegisterStatic registers a static module in the process table.
func RegisterStatic(name string, skel Skel) {
	Process().RegisterStatic(name, skel)
}

// RegisterOverride registers an override in the process table.
func RegisterOverride(name string, skel Skel) {
	Process().RegisterOverride(name, skel)
}

// RegisterConst binds a reserved handle in the process table.
func RegisterConst(handle uint32, uri string, skel Skel) error {
	return Process().RegisterConst(handle, uri, skel)
}

// Invoke dispatches through the process table.
func Invoke(handle uint32, sc remote.Scalars, args []remote.Arg) error {
	return Process().Invoke(handle, sc, args)
}
