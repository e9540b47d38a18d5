// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package fastrpc assembles a complete transport: the host-side
// module table that remote domains call back into, the listener that
// serves it, and the domain manager, brought up in dependency order
// through a platform registry.
//
// Most programs use the process-wide default through Open, Invoke and
// Close:
//
//	h, err := fastrpc.Open("file:///libcalc_skel.so?calc_skel_invoke&_modver=1.0&_dom=cdsp")
//	if err == nil {
//		err = fastrpc.Invoke(h, sc, args)
//		fastrpc.Close(h)
//	}
package fastrpc

import (
	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/listener"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/platform"
	"github.com/diffeo/go-fastrpc/props"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/remotectl"
	"github.com/sirupsen/logrus"
)

// Names of the components in a Process's registry.
const (
	ComponentTuning   = "tuning"
	ComponentModules  = "modules"
	ComponentListener = "listener"
	ComponentDomains  = "domains"
)

// Config configures a Process.
type Config struct {
	// Opener opens devices.  Required.
	Opener domain.Opener

	// Properties are consulted before Env for tuning.  Either may
	// be nil.
	Properties props.Store
	Env        props.Store

	// Modules, if set, is the host-side module table to serve.
	// It is shared, not owned: Shutdown leaves its registrations
	// and open modules alone.  If nil the process builds its own.
	Modules *modtable.Table

	// Loader loads host-side modules into a table the process
	// builds itself.  If nil only registered modules resolve.
	Loader modtable.Loader

	// Packed selects the packed listener variant.
	Packed bool

	// ShellDirs overrides the manager's shell image directories.
	ShellDirs []string

	// Clock drives QoS timing.
	Clock clock.Clock

	// Logger receives diagnostics.  Defaults to the standard
	// logger.
	Logger *logrus.Logger
}

// Process is one assembled transport.
type Process struct {
	// Registry brings the components up and down.
	Registry *platform.Registry

	// Tuning is read once when the process starts.
	Tuning props.Tuning

	// Modules is the host-side module table remote domains call.
	Modules *modtable.Table

	// Listener serves Modules to every open session.
	Listener *listener.Listener

	// Manager owns the domain sessions.
	Manager *domain.Manager

	cfg Config
}

// New builds and starts a process.
func New(cfg Config) (*Process, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	p := &Process{
		Registry: platform.NewRegistry(),
		cfg:      cfg,
	}
	p.Registry.Logger = cfg.Logger
	for _, c := range p.components() {
		if err := p.Registry.Define(c); err != nil {
			return nil, err
		}
	}
	if err := p.Registry.Init(ComponentDomains); err != nil {
		p.Registry.Deinit()
		return nil, err
	}
	return p, nil
}

func (p *Process) components() []platform.Component {
	return []platform.Component{
		{
			Name: ComponentTuning,
			Init: func() (err error) {
				p.Tuning, err = props.LoadTuning(p.cfg.Properties, p.cfg.Env)
				return
			},
		},
		{
			Name: ComponentModules,
			Init: func() error {
				p.Modules = p.cfg.Modules
				if p.Modules == nil {
					p.Modules = modtable.New(p.cfg.Loader)
					p.Modules.Logger = p.cfg.Logger
				}
				return p.Modules.RegisterConst(remote.RemotectlHandle, "remotectl", remotectl.Skel(p.Modules))
			},
			Deinit: func() {
				if p.cfg.Modules == nil {
					p.Modules.Shutdown()
				}
			},
		},
		{
			Name: ComponentListener,
			Deps: []string{ComponentTuning, ComponentModules},
			Init: func() error {
				size := p.Tuning.ListenerMinCache
				if size <= 0 {
					size = listener.DefaultMinCacheSize
				}
				p.Listener = listener.New(listener.Config{
					Table:        p.Modules,
					MinCacheSize: size,
					Packed:       p.cfg.Packed,
					Logger:       p.cfg.Logger,
				})
				return nil
			},
			Deinit: func() {
				if err := p.Listener.Close(); err != nil {
					p.cfg.Logger.WithError(err).Warn("closing listener")
				}
			},
		},
		{
			Name: ComponentDomains,
			Deps: []string{ComponentTuning, ComponentListener},
			Init: func() error {
				p.Manager = domain.NewManager(domain.Config{
					Opener:    p.cfg.Opener,
					Hooks:     []domain.SessionHook{p.Listener},
					Tuning:    p.Tuning,
					ShellDirs: p.cfg.ShellDirs,
					Clock:     p.cfg.Clock,
					Logger:    p.cfg.Logger,
				})
				return nil
			},
			Deinit: func() {
				p.Manager.Shutdown()
			},
		},
	}
}

// Open opens a module on the domain its URI names.
func (p *Process) Open(uri string) (domain.LocalHandle, error) {
	return p.Manager.Open(uri)
}

// Invoke calls a method on an open module.
func (p *Process) Invoke(h domain.LocalHandle, sc remote.Scalars, args []remote.Arg) error {
	return p.Manager.Invoke(h, sc, args)
}

// Close closes a module handle.
func (p *Process) Close(h domain.LocalHandle) error {
	return p.Manager.Close(h)
}

// Shutdown closes every session and releases the host modules.
func (p *Process) Shutdown() {
	p.Registry.Deinit()
}
