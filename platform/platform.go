// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package platform brings process-wide subsystems up and down in
// dependency order.  Each subsystem registers an init and a deinit
// function and the names of the subsystems it needs; Init runs a
// subsystem's dependencies first and runs each init at most once,
// remembering its result, and Deinit undoes everything in reverse.
package platform

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Component is one subsystem.
type Component struct {
	// Name identifies the component to Init and to dependents.
	Name string

	// Deps are initialized before this component.
	Deps []string

	// Init brings the component up.  It may be nil.
	Init func() error

	// Deinit tears the component down.  It runs only if Init
	// succeeded, and may be nil.
	Deinit func()
}

type state struct {
	Component
	done bool
	err  error
}

// Registry is a set of components.
type Registry struct {
	// Logger, if set, receives debug logging of each transition.
	Logger *logrus.Logger

	lock  sync.Mutex
	defs  map[string]*state
	order []*state
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*state)}
}

// Define adds a component.  Redefining a name is an error.
func (r *Registry) Define(c Component) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.defs == nil {
		r.defs = make(map[string]*state)
	}
	if _, dup := r.defs[c.Name]; dup {
		return fmt.Errorf("platform: component %q already defined", c.Name)
	}
	r.defs[c.Name] = &state{Component: c}
	return nil
}

// Init brings up name and everything it depends on.  A component's
// init function runs once; later calls return its original result.
func (r *Registry) Init(name string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.init(name, map[string]bool{})
}

func (r *Registry) init(name string, visiting map[string]bool) error {
	s, ok := r.defs[name]
	if !ok {
		return fmt.Errorf("platform: no component %q", name)
	}
	if s.done {
		return s.err
	}
	if visiting[name] {
		return fmt.Errorf("platform: dependency cycle at %q", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, dep := range s.Deps {
		if err := r.init(dep, visiting); err != nil {
			return fmt.Errorf("platform: %s: %w", name, err)
		}
	}
	if s.Init != nil {
		s.err = s.Init()
	}
	s.done = true
	if s.err == nil {
		r.order = append(r.order, s)
	}
	r.log().WithFields(logrus.Fields{
		"component": name,
		"error":     s.err,
	}).Debug("component init")
	return s.err
}

// Initialized reports whether name has been brought up successfully.
func (r *Registry) Initialized(name string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.defs[name]
	return ok && s.done && s.err == nil
}

// Deinit tears down every initialized component, most recently
// initialized first, and forgets cached results so that a later Init
// starts over.
func (r *Registry) Deinit() {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.order[i]
		if s.Deinit != nil {
			s.Deinit()
		}
		r.log().WithField("component", s.Name).Debug("component deinit")
	}
	r.order = nil
	for _, s := range r.defs {
		s.done = false
		s.err = nil
	}
}

func (r *Registry) log() *logrus.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}
