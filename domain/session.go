// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package domain

import (
	"sync/atomic"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/wire"
	"github.com/sirupsen/logrus"
)

// Session is an open channel to one domain.  It stays valid until
// the domain is torn down; calls made after that fail with the
// device's error.
type Session struct {
	ID  remote.DomainID
	d   *Domain
	dev Device
}

// Device returns the underlying device.
func (s *Session) Device() Device { return s.dev }

// Invoke sends one call on handle straight to the device, without
// reopening the session.
func (s *Session) Invoke(handle uint32, sc remote.Scalars, args []remote.Arg) error {
	return s.d.invoke(s.dev, handle, sc, args)
}

func (d *Domain) invoke(dev Device, handle uint32, sc remote.Scalars, args []remote.Arg) error {
	if err := sc.Check(args); err != nil {
		return err
	}
	req := &InvokeRequest{
		Handle:  handle,
		Scalars: sc,
		Args:    args,
		FDs:     make([]int32, sc.Buffers()),
		Attrs:   make([]uint32, sc.Buffers()),
	}
	for i := 0; i < sc.Buffers(); i++ {
		fd, attr, err := d.mgr.fds.Lookup(args[i].Buf)
		if err != nil {
			return err
		}
		req.FDs[i], req.Attrs[i] = fd, attr
	}
	for i := sc.Buffers(); i < sc.Buffers()+sc.InHandles(); i++ {
		if dma, ok := d.mgr.dma.Lookup(int32(args[i].Handle)); ok {
			req.DMA = append(req.DMA, dma)
		}
	}
	d.lock.Lock()
	crc := d.procAttrs&AttrCRC != 0
	d.lock.Unlock()
	if crc {
		req.CRC = make([]uint32, sc.OutBufs())
	}

	trace := d.mgr.cfg.Tuning.Trace && !remote.IsConstHandle(handle)
	if trace {
		d.logger().WithFields(logrus.Fields{
			"handle": handle,
			"sc":     sc.String(),
		}).Debug("invoke start")
	}
	d.qos.refinc()
	atomic.AddUint64(&d.invokes, 1)
	err := dev.Invoke(req)
	if trace {
		d.logger().WithFields(logrus.Fields{
			"handle": handle,
			"sc":     sc.String(),
			"error":  err,
		}).Debug("invoke end")
	}
	if err == nil && crc {
		d.checkCRC(req)
	}
	return err
}

func (d *Domain) checkCRC(req *InvokeRequest) {
	first := req.Scalars.InBufs()
	for i, want := range req.CRC {
		if got := wire.CRC32(req.Args[first+i].Buf); got != want {
			d.logger().WithFields(logrus.Fields{
				"handle": req.Handle,
				"arg":    first + i,
				"local":  got,
				"remote": want,
			}).Warn("output buffer checksum mismatch")
		}
	}
}

// InvokeDomain sends one call on a 32-bit handle to domain id,
// opening the session if needed.
func (m *Manager) InvokeDomain(id remote.DomainID, handle uint32, sc remote.Scalars, args []remote.Arg) error {
	s, err := m.OpenDev(id)
	if err != nil {
		return err
	}
	return s.Invoke(handle, sc, args)
}
