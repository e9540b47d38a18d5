// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package modtable maps module URIs to entry points and dispatches
// invocations on the handles it hands out.
//
// A URI resolves through three registries in order: overrides, then
// the dynamic loader, then statically registered modules.  Reserved
// handles below remote.MaxConstHandle are bound once through
// RegisterConst and dispatch without any bookkeeping.  Every other
// handle names an open-module record that is reference counted: one
// reference per Open and one per call in flight, so a Close racing a
// call never invalidates the call.
package modtable

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/sirupsen/logrus"
)

type constMod struct {
	uri  string
	skel Skel
}

type openMod struct {
	handle uint32
	uri    URI
	key    string
	skel   Skel
	lib    Library
	remote uint64

	opens    int
	inflight int
	closing  bool
}

// Table is a module dispatch table.  It is safe for concurrent use.
type Table struct {
	// Loader loads dynamic modules.  If nil, only registered
	// modules resolve.
	Loader Loader

	// Logger receives diagnostics; the standard logger is used if
	// it is nil.
	Logger *logrus.Logger

	lock      sync.RWMutex
	overrides map[string]Skel
	statics   map[string]Skel
	consts    map[uint32]constMod
	open      map[uint32]*openMod
	byKey     map[string]*openMod
}

// New creates an empty table.
func New(loader Loader) *Table {
	return &Table{
		Loader:    loader,
		overrides: make(map[string]Skel),
		statics:   make(map[string]Skel),
		consts:    make(map[uint32]constMod),
		open:      make(map[uint32]*openMod),
		byKey:     make(map[string]*openMod),
	}
}

func (t *Table) log() *logrus.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logrus.StandardLogger()
}

// RegisterOverride registers a module that wins over both dynamic
// loading and the static table.
func (t *Table) RegisterOverride(name string, skel Skel) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.overrides[name] = skel
}

// RegisterStatic registers a module used when dynamic loading fails.
func (t *Table) RegisterStatic(name string, skel Skel) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.statics[name] = skel
}

// RegisterConst binds a reserved handle to an entry point.  A Scoped
// entry point receives the handle value itself as its handle.
func (t *Table) RegisterConst(handle uint32, uri string, skel Skel) error {
	if !remote.IsConstHandle(handle) {
		return remote.ErrBadHandle
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.consts[handle] = constMod{uri: uri, skel: skel}
	return nil
}

// Open resolves uri and returns a handle for it.  Opening a URI that
// is already open returns the same handle with one more reference.
func (t *Table) Open(uri string) (uint32, error) {
	u, err := ParseURI(uri)
	if err != nil {
		return 0, err
	}
	key := u.String()

	t.lock.Lock()
	if m, ok := t.byKey[key]; ok {
		m.opens++
		t.lock.Unlock()
		return m.handle, nil
	}
	t.lock.Unlock()

	m, err := t.resolve(u)
	if err != nil {
		return 0, err
	}
	m.key = key
	if _, ok := m.skel.(Scoped); u.Scoped() && !ok {
		t.unload(m)
		return 0, fmt.Errorf("modtable: %s has no handle-scoped entry point: %w", u.Name, remote.ErrBadParm)
	}
	if fn, ok := m.skel.(Scoped); ok {
		if m.remote, err = openScoped(fn, uri); err != nil {
			t.unload(m)
			return 0, err
		}
	}

	t.lock.Lock()
	if existing, ok := t.byKey[key]; ok {
		existing.opens++
		t.lock.Unlock()
		if err := t.finalize(m); err != nil {
			t.log().WithError(err).WithField("uri", key).Warn("releasing duplicate module")
		}
		return existing.handle, nil
	}
	m.handle = t.allocHandle(key)
	m.opens = 1
	t.open[m.handle] = m
	t.byKey[key] = m
	t.lock.Unlock()

	t.log().WithFields(logrus.Fields{
		"uri":    key,
		"handle": m.handle,
	}).Debug("module opened")
	return m.handle, nil
}

// resolve finds an entry point: overrides, then the loader, then
// the static table.
func (t *Table) resolve(u URI) (*openMod, error) {
	t.lock.RLock()
	skel, ok := t.overrides[u.Name]
	t.lock.RUnlock()
	if ok {
		return &openMod{uri: u, skel: skel}, nil
	}

	var loadErr error
	if t.Loader != nil {
		var m *openMod
		m, loadErr = t.load(u)
		if loadErr == nil {
			return m, nil
		}
	}

	t.lock.RLock()
	skel, ok = t.statics[u.Name]
	t.lock.RUnlock()
	if ok {
		return &openMod{uri: u, skel: skel}, nil
	}

	merr := remote.ModuleError{URI: u.Raw}
	if loadErr != nil {
		merr.LoadError = loadErr.Error()
	}
	return nil, merr
}

func (t *Table) load(u URI) (*openMod, error) {
	lib, err := t.Loader.Load(u.Path)
	if err != nil {
		return nil, err
	}
	sym, err := lib.Lookup(u.Symbol)
	if err == nil {
		var skel Skel
		if skel, err = skelFromSymbol(sym); err == nil {
			return &openMod{uri: u, skel: skel, lib: lib}, nil
		}
	}
	if cerr := lib.Close(); cerr != nil {
		err = fmt.Errorf("%v (close: %v)", err, cerr)
	}
	return nil, err
}

// allocHandle picks a free handle for key.  Must hold the write lock.
func (t *Table) allocHandle(key string) uint32 {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	h := hash.Sum32()
	for {
		if remote.IsConstHandle(h) {
			h = remote.MaxConstHandle
		}
		if _, taken := t.open[h]; !taken {
			return h
		}
		h++
	}
}

// Invoke dispatches one call.
func (t *Table) Invoke(handle uint32, sc remote.Scalars, args []remote.Arg) error {
	if remote.IsConstHandle(handle) {
		t.lock.RLock()
		c, ok := t.consts[handle]
		t.lock.RUnlock()
		if !ok {
			return remote.ErrBadHandle
		}
		return call(c.skel, uint64(handle), sc, args)
	}

	t.lock.Lock()
	m, ok := t.open[handle]
	if ok {
		m.inflight++
	}
	t.lock.Unlock()
	if !ok {
		return remote.ErrBadHandle
	}
	defer t.release(m)
	return call(m.skel, m.remote, sc, args)
}

func (t *Table) release(m *openMod) {
	t.lock.Lock()
	m.inflight--
	last := m.closing && m.inflight == 0
	t.lock.Unlock()
	if last {
		if err := t.finalize(m); err != nil {
			t.log().WithError(err).WithField("uri", m.key).Warn("releasing module")
		}
	}
}

// Close drops one reference to handle.  The module is released when
// the last reference goes away; if calls are still running on it the
// handle is withdrawn at once and the release happens when the last
// call returns.
func (t *Table) Close(handle uint32) error {
	t.lock.Lock()
	m, ok := t.open[handle]
	if !ok {
		t.lock.Unlock()
		return remote.ErrBadHandle
	}
	m.opens--
	if m.opens > 0 {
		t.lock.Unlock()
		return nil
	}
	delete(t.open, handle)
	delete(t.byKey, m.key)
	if m.inflight > 0 {
		m.closing = true
		t.lock.Unlock()
		t.log().WithFields(logrus.Fields{
			"uri":      m.key,
			"handle":   handle,
			"inflight": m.inflight,
		}).Debug("module leaked until calls complete")
		return nil
	}
	t.lock.Unlock()
	return t.finalize(m)
}

// finalize releases the remote-side handle and the library.
func (t *Table) finalize(m *openMod) error {
	var err error
	if fn, ok := m.skel.(Scoped); ok {
		err = closeScoped(fn, m.remote)
	}
	if uerr := t.unload(m); err == nil {
		err = uerr
	}
	t.log().WithFields(logrus.Fields{
		"uri":    m.key,
		"handle": m.handle,
	}).Debug("module closed")
	return err
}

func (t *Table) unload(m *openMod) error {
	if m.lib == nil {
		return nil
	}
	return m.lib.Close()
}

// Opened reports whether handle is currently open.
func (t *Table) Opened(handle uint32) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	_, ok := t.open[handle]
	return ok
}

// Shutdown releases every open module regardless of its reference
// count.
func (t *Table) Shutdown() {
	t.lock.Lock()
	mods := make([]*openMod, 0, len(t.open))
	for _, m := range t.open {
		mods = append(mods, m)
	}
	t.open = make(map[uint32]*openMod)
	t.byKey = make(map[string]*openMod)
	t.lock.Unlock()
	var errs []error
	for _, m := range mods {
		if err := t.finalize(m); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		t.log().WithError(err).Warn("module table shutdown")
	}
}
