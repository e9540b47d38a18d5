// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package fastrpc

import (
	"github.com/diffeo/go-fastrpc/chardev"
	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/pls"
	"github.com/diffeo/go-fastrpc/props"
	"github.com/diffeo/go-fastrpc/remote"
)

type defaultKey struct{}

// DefaultConfig is used to build the default process.  It may be
// changed before the first call to Default.  Unless it names a
// table, the default process serves modtable.Process(), so modules
// registered through modtable.RegisterStatic and friends are visible
// to remote domains whenever they were registered.
var DefaultConfig = Config{
	Opener: &chardev.Opener{},
	Env:    props.Env{},
}

// Default returns the process-wide transport, starting it on first
// use.  It lives in process-local storage and is shut down by
// pls.CloseProcess.
func Default() (*Process, error) {
	return pls.Get(pls.Process(), defaultKey{}, nil,
		func() (*Process, error) {
			cfg := DefaultConfig
			if cfg.Modules == nil {
				cfg.Modules = modtable.Process()
			}
			return New(cfg)
		},
		func(p *Process) { p.Shutdown() })
}

// Open opens a module through the default process.
func Open(uri string) (domain.LocalHandle, error) {
	p, err := Default()
	if err != nil {
		return 0, err
	}
	return p.Open(uri)
}

// Invoke calls a method through the default process.
func Invoke(h domain.LocalHandle, sc remote.Scalars, args []remote.Arg) error {
	p, err := Default()
	if err != nil {
		return err
	}
	return p.Invoke(h, sc, args)
}

// Close closes a handle through the default process.
func Close(h domain.LocalHandle) error {
	p, err := Default()
	if err != nil {
		return err
	}
	return p.Close(h)
}
