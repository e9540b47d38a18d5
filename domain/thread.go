// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package domain

import (
	"context"
	"strings"
	"sync"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/remotectl"
)

// Thread carries the domain affinity of one caller.  Calls that name
// a 32-bit remote handle go to the domain the thread last used, or
// the default domain.  A Thread is safe for concurrent use but is
// meant to be owned by one goroutine.
type Thread struct {
	m    *Manager
	lock sync.Mutex
	id   remote.DomainID
	set  bool
}

// NewThread creates a thread with no affinity.
func (m *Manager) NewThread() *Thread {
	return &Thread{m: m}
}

// Domain returns the thread's affinity, if any.
func (t *Thread) Domain() (remote.DomainID, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.id, t.set
}

func (t *Thread) bind(id remote.DomainID) {
	t.lock.Lock()
	t.id = id
	t.set = true
	t.lock.Unlock()
}

func (t *Thread) current() remote.DomainID {
	if id, ok := t.Domain(); ok {
		return id
	}
	return remote.DefaultDomain
}

// Open opens a module and returns its remote handle.  A URI without a
// domain parameter goes to the thread's domain.
func (t *Thread) Open(uri string) (uint32, error) {
	id := t.current()
	if _, ok := uriParam(uri, "_dom"); ok {
		var err error
		if id, err = domainFromURI(uri); err != nil {
			return 0, err
		}
	}
	d := t.m.domains[id]
	if name := strings.TrimPrefix(uri, TransportPrefix); name != uri {
		h, err := t.m.openTransport(d, name)
		return uint32(h), err
	}
	s, err := t.m.OpenDev(id)
	if err != nil {
		return 0, err
	}
	h, err := remotectl.Client{Invoker: s}.Open(uri)
	if err != nil {
		return 0, err
	}
	d.lock.Lock()
	d.nonDomainSupport = true
	d.lock.Unlock()
	t.bind(id)
	return h, nil
}

// Invoke sends one call on a remote handle of the thread's domain.
func (t *Thread) Invoke(handle uint32, sc remote.Scalars, args []remote.Arg) error {
	id := t.current()
	if err := t.m.InvokeDomain(id, handle, sc, args); err != nil {
		return err
	}
	t.bind(id)
	return nil
}

// Close closes a remote handle of the thread's domain.  The session
// stays open.
func (t *Thread) Close(handle uint32) error {
	if remote.IsConstHandle(handle) {
		return nil
	}
	s, err := t.m.OpenDev(t.current())
	if err != nil {
		return err
	}
	return remotectl.Client{Invoker: s}.Close(handle)
}

// Invoke64 sends one call on a local handle and moves the thread's
// affinity to the handle's domain.
func (t *Thread) Invoke64(h LocalHandle, sc remote.Scalars, args []remote.Arg) error {
	id, err := t.m.DomainOf(h)
	if err != nil {
		return err
	}
	t.bind(id)
	return t.m.Invoke(h, sc, args)
}

// Control applies a control request to the thread's domain.
func (t *Thread) Control(req interface{}) error {
	return t.m.Control(t.current(), req)
}

// Mmap maps a buffer into the thread's domain.
func (t *Thread) Mmap(req *MmapRequest) error {
	return t.m.Mmap(t.current(), req)
}

// Munmap removes a mapping from the thread's domain.
func (t *Thread) Munmap(req *MunmapRequest) error {
	return t.m.Munmap(t.current(), req)
}

// Exit tells the remote process that this thread is gone and clears
// the affinity.
func (t *Thread) Exit() {
	t.lock.Lock()
	id, set := t.id, t.set
	t.set = false
	t.lock.Unlock()
	if !set {
		return
	}
	d := t.m.domains[id]
	s := d.ready()
	if s == nil {
		return
	}
	if err := (remotectl.ProcessClient{Invoker: s}).ThreadExit(); err != nil {
		d.logger().WithError(err).Debug("thread exit notification")
	}
}

type threadKey struct{}

// WithThread returns a context carrying t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFrom returns the thread carried by ctx, or nil.
func ThreadFrom(ctx context.Context) *Thread {
	t, _ := ctx.Value(threadKey{}).(*Thread)
	return t
}
