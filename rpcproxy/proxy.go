// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package rpcproxy lets host tools drive a domain manager over
// CBOR-RPC.  A Proxy is the target object of a cborrpc.Server; its
// exported methods are the RPC methods, named in snake case on the
// wire ("open", "invoke", "close", "domains", "session").
//
// Every handle the proxy opens is remembered so that Shutdown can
// close whatever a client left behind.
package rpcproxy

import (
	"sync"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// Proxy exposes a domain.Manager as a CBOR-RPC target.
type Proxy struct {
	manager *domain.Manager
	id      uuid.UUID
	log     *logrus.Entry

	lock    sync.Mutex
	handles map[domain.LocalHandle]int
}

// New creates a proxy over m.  If log is nil the standard logger is
// used.
func New(m *domain.Manager, log *logrus.Logger) *Proxy {
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := uuid.NewV4()
	return &Proxy{
		manager: m,
		id:      id,
		log:     log.WithField("proxy", id.String()),
		handles: make(map[domain.LocalHandle]int),
	}
}

// Session returns the proxy's identifier.  It changes every time the
// daemon starts, so a client can tell that handles it holds are stale.
func (p *Proxy) Session() uuid.UUID {
	return p.id
}

// Open opens uri on the domain it names and returns the local handle.
func (p *Proxy) Open(uri string) (uint64, error) {
	h, err := p.manager.Open(uri)
	if err != nil {
		return 0, err
	}
	if h == 0 {
		// transport names return no handle
		return 0, nil
	}
	p.lock.Lock()
	p.handles[h]++
	p.lock.Unlock()
	p.log.WithFields(logrus.Fields{
		"uri":    uri,
		"handle": h,
	}).Debug("proxy open")
	return uint64(h), nil
}

// Close closes a handle returned by Open.
func (p *Proxy) Close(handle uint64) error {
	h := domain.LocalHandle(handle)
	p.lock.Lock()
	n, ok := p.handles[h]
	if ok {
		if n > 1 {
			p.handles[h] = n - 1
		} else {
			delete(p.handles, h)
		}
	}
	p.lock.Unlock()
	if !ok {
		return remote.ErrBadHandle
	}
	return p.manager.Close(h)
}

// Invoke calls method on handle with one input buffer per entry of
// inBufs and one output buffer per entry of outSizes, and returns the
// output buffers.
func (p *Proxy) Invoke(handle uint64, method int, inBufs [][]byte, outSizes []int) ([][]byte, error) {
	sc, err := remote.MakeScalars(method, len(inBufs), len(outSizes), 0, 0)
	if err != nil {
		return nil, err
	}
	args := make([]remote.Arg, 0, sc.Len())
	for _, b := range inBufs {
		args = append(args, remote.BufArg(b))
	}
	for _, n := range outSizes {
		if n < 0 {
			return nil, remote.ErrBadParm
		}
		args = append(args, remote.BufArg(make([]byte, n)))
	}
	if err := p.manager.Invoke(domain.LocalHandle(handle), sc, args); err != nil {
		return nil, err
	}
	outs := make([][]byte, len(outSizes))
	for i := range outs {
		outs[i] = args[len(inBufs)+i].Buf
	}
	return outs, nil
}

// Domains returns a snapshot of every domain.
func (p *Proxy) Domains() []domain.Stats {
	return p.manager.Stats()
}

// Shutdown closes every handle still open through the proxy.
func (p *Proxy) Shutdown() {
	p.lock.Lock()
	handles := p.handles
	p.handles = make(map[domain.LocalHandle]int)
	p.lock.Unlock()
	for h, n := range handles {
		for ; n > 0; n-- {
			if err := p.manager.Close(h); err != nil {
				p.log.WithError(err).WithField("handle", h).Warn("closing abandoned handle")
				break
			}
		}
	}
}
