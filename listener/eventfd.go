// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package listener

import (
	"encoding/binary"

	"github.com/diffeo/go-fastrpc/remote"
	"golang.org/x/sys/unix"
)

// eventFD is signalled each time a domain's loop ends.
type eventFD struct {
	fd int
}

// EventFD returns a file descriptor that becomes readable when the
// loop serving id ends.  The same descriptor is returned for every
// call until Close.
func (l *Listener) EventFD(id remote.DomainID) (int, error) {
	if !id.Valid() {
		return -1, remote.ErrInvalidDomain
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if ev, ok := l.events[id]; ok {
		return ev.fd, nil
	}
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, remote.ErrNoMemory
	}
	l.events[id] = &eventFD{fd: fd}
	return fd, nil
}

func (l *Listener) signal(id remote.DomainID) {
	l.lock.Lock()
	ev := l.events[id]
	l.lock.Unlock()
	if ev == nil {
		return
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(ev.fd, one[:]); err != nil {
		l.log.WithError(err).WithField("domain", id.String()).Debug("signalling listener exit")
	}
}

// Close releases the event descriptors.  Running loops are not
// affected.
func (l *Listener) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	var first error
	for id, ev := range l.events {
		if err := unix.Close(ev.fd); err != nil && first == nil {
			first = err
		}
		delete(l.events, id)
	}
	return first
}
