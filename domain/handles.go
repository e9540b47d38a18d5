// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package domain

import (
	"strings"
	"sync/atomic"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/remotectl"
	"github.com/sirupsen/logrus"
)

// LocalHandle is the caller's name for a module opened on a domain.
// It is valid only while the manager still lists it under its
// owning domain.
type LocalHandle uint64

const firstLocalHandle = 0x10000

type handleRecord struct {
	local  LocalHandle
	domain *Domain
	remote uint32
}

// TransportPrefix marks the special names Open understands instead
// of module URIs.
const TransportPrefix = "'\":;./\\"

// Special names accepted by Open after TransportPrefix.
const (
	NameGetEventFD     = "geteventfd"
	NameAttachGuestOS  = "attachguestos"
	NameCreateStaticPD = "createstaticpd:"
	NameAttachUserPD   = "attachuserpd"
)

// EventSource is implemented by hooks that can hand out a file
// descriptor signalled for a domain.
type EventSource interface {
	EventFD(id remote.DomainID) (int, error)
}

func (m *Manager) allocHandle(d *Domain, remoteHandle uint32) LocalHandle {
	h := LocalHandle(atomic.AddUint64(&m.nextHandle, 1))
	rec := &handleRecord{local: h, domain: d, remote: remoteHandle}
	m.handleLock.Lock()
	m.handles[h] = rec
	m.handleLock.Unlock()
	d.lock.Lock()
	d.handles[h] = rec
	d.lock.Unlock()
	return h
}

// allocSessionHandle is allocHandle for a handle opened through s.
// It fails if s was torn down after the remote open, since the remote
// handle died with it.
func (m *Manager) allocSessionHandle(s *Session, remoteHandle uint32) (LocalHandle, error) {
	d := s.d
	h := LocalHandle(atomic.AddUint64(&m.nextHandle, 1))
	rec := &handleRecord{local: h, domain: d, remote: remoteHandle}
	m.handleLock.Lock()
	m.handles[h] = rec
	m.handleLock.Unlock()
	d.lock.Lock()
	live := d.session == s
	if live {
		d.handles[h] = rec
		d.domainSupport = true
	}
	d.lock.Unlock()
	if !live {
		m.handleLock.Lock()
		delete(m.handles, h)
		m.handleLock.Unlock()
		return 0, remote.ErrBadState
	}
	return h, nil
}

// verify checks that h is a live handle of one of m's domains.
func (m *Manager) verify(h LocalHandle) (*handleRecord, error) {
	m.handleLock.Lock()
	rec, ok := m.handles[h]
	m.handleLock.Unlock()
	if !ok {
		return nil, remote.ErrBadHandle
	}
	d := rec.domain
	if d == nil || !d.id.Valid() || m.domains[d.id] != d {
		return nil, remote.ErrBadHandle
	}
	d.lock.Lock()
	_, listed := d.handles[h]
	d.lock.Unlock()
	if !listed {
		return nil, remote.ErrBadHandle
	}
	return rec, nil
}

func (m *Manager) freeHandle(rec *handleRecord) {
	m.handleLock.Lock()
	delete(m.handles, rec.local)
	m.handleLock.Unlock()
	d := rec.domain
	d.lock.Lock()
	delete(d.handles, rec.local)
	d.lock.Unlock()
}

func (m *Manager) forgetHandles(recs map[LocalHandle]*handleRecord) {
	m.handleLock.Lock()
	defer m.handleLock.Unlock()
	for h := range recs {
		delete(m.handles, h)
	}
}

// isLastHandle reports whether closing should tear the session down:
// only when the domain has been used solely through local handles,
// and every handle left is bound to a reserved remote handle.
func (d *Domain) isLastHandle() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.domainSupport || d.nonDomainSupport {
		return false
	}
	if d.pendingOpens > 0 {
		d.closeDeferred = true
		return false
	}
	for _, rec := range d.handles {
		if !remote.IsConstHandle(rec.remote) {
			return false
		}
	}
	return true
}

// DomainOf returns the domain a handle belongs to.
func (m *Manager) DomainOf(h LocalHandle) (remote.DomainID, error) {
	rec, err := m.verify(h)
	if err != nil {
		return -1, err
	}
	return rec.domain.id, nil
}

// Open opens a module on the domain its URI names and returns a local
// handle for it.  The special transport names select an attach mode
// for the domain's next session instead and return a zero handle.
func (m *Manager) Open(uri string) (LocalHandle, error) {
	id, err := domainFromURI(uri)
	if err != nil {
		return 0, err
	}
	d := m.domains[id]
	if name := strings.TrimPrefix(uri, TransportPrefix); name != uri {
		return m.openTransport(d, name)
	}

	d.beginOpen()
	defer d.endOpen()
	s, err := m.OpenDev(id)
	if err != nil {
		return 0, err
	}
	rh, err := remotectl.Client{Invoker: s}.Open(uri)
	if err != nil {
		return 0, err
	}
	h, err := m.allocSessionHandle(s, rh)
	if err != nil {
		return 0, err
	}
	d.logger().WithFields(logrus.Fields{
		"uri":    uri,
		"handle": h,
		"remote": rh,
	}).Debug("opened")
	return h, nil
}

func (d *Domain) beginOpen() {
	d.lock.Lock()
	d.pendingOpens++
	d.lock.Unlock()
}

// endOpen finishes a teardown a Close deferred while opens were in
// flight, once none are left and no handle needs the session.
func (d *Domain) endOpen() {
	d.lock.Lock()
	d.pendingOpens--
	deferred := d.pendingOpens == 0 && d.closeDeferred
	if deferred {
		d.closeDeferred = false
	}
	d.lock.Unlock()
	if deferred && d.isLastHandle() {
		d.closeSession()
	}
}

func (m *Manager) openTransport(d *Domain, name string) (LocalHandle, error) {
	m.initOnce.Do(func() {
		if m.cfg.Init != nil {
			m.initErr = m.cfg.Init()
		}
	})
	if m.initErr != nil {
		return 0, m.initErr
	}
	switch {
	case strings.HasPrefix(name, NameGetEventFD):
		for _, hook := range m.cfg.Hooks {
			if src, ok := hook.(EventSource); ok {
				fd, err := src.EventFD(d.id)
				return LocalHandle(fd), err
			}
		}
		return 0, remote.ErrUnsupported
	case strings.HasPrefix(name, NameAttachGuestOS):
		d.setAttach(GuestOS, "")
	case strings.HasPrefix(name, NameCreateStaticPD):
		pd := strings.TrimPrefix(name, NameCreateStaticPD)
		if i := strings.IndexByte(pd, '&'); i >= 0 {
			pd = pd[:i]
		}
		switch {
		case strings.HasPrefix(pd, "audiopd"):
			d.setAttach(StaticPD, pd)
		case strings.HasPrefix(pd, "sensorspd"):
			d.setAttach(SensorsPD, pd)
		case strings.HasPrefix(pd, "rootpd"):
			d.setAttach(GuestOSShared, pd)
		default:
			d.setAttach(d.currentMode(), pd)
		}
	case strings.HasPrefix(name, NameAttachUserPD):
		d.setAttach(UserPD, "")
	default:
		return 0, remote.ErrBadParm
	}
	return 0, nil
}

func (d *Domain) setAttach(mode AttachMode, staticName string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.mode = mode
	d.staticName = staticName
	d.logger().WithField("mode", mode.String()).Debug("attach mode set")
}

func (d *Domain) currentMode() AttachMode {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.mode
}

// Invoke sends one call on a local handle.
func (m *Manager) Invoke(h LocalHandle, sc remote.Scalars, args []remote.Arg) error {
	rec, err := m.verify(h)
	if err != nil {
		return err
	}
	s, err := m.OpenDev(rec.domain.id)
	if err != nil {
		return err
	}
	return s.Invoke(rec.remote, sc, args)
}

// Close closes a local handle.  Closing the last handle of a domain
// used only through local handles tears its session down.
func (m *Manager) Close(h LocalHandle) error {
	rec, err := m.verify(h)
	if err != nil {
		return err
	}
	d := rec.domain
	var cerr error
	if s := d.ready(); s != nil && !remote.IsConstHandle(rec.remote) {
		cerr = remotectl.Client{Invoker: s}.Close(rec.remote)
	}
	m.freeHandle(rec)
	if d.isLastHandle() {
		d.closeSession()
	}
	return cerr
}
