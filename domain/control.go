// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package domain

import (
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/sirupsen/logrus"
)

// LatencyControl selects the QoS policy of a domain.  Latency is the
// PM QoS target in microseconds.
type LatencyControl struct {
	Mode    QoSMode
	Latency uint32
}

// KernelAllocControl asks whether the kernel can allocate buffers on
// the caller's behalf.  Supported is filled in.
type KernelAllocControl struct {
	Supported bool
}

// SMMUControl asks whether the domain uses a shared context bank.
// Shared is filled in.
type SMMUControl struct {
	Shared bool
}

// Control applies one control request to domain id.  req is one of
// *LatencyControl, *KernelAllocControl or *SMMUControl.
func (m *Manager) Control(id remote.DomainID, req interface{}) error {
	d, err := m.Domain(id)
	if err != nil {
		return err
	}
	switch r := req.(type) {
	case *LatencyControl:
		return d.setLatency(r.Mode, r.Latency)
	case *KernelAllocControl:
		res, err := d.query(ControlKernelAlloc)
		if err != nil {
			return err
		}
		r.Supported = res != 0
		return nil
	case *SMMUControl:
		res, err := d.query(ControlSMMU)
		if err != nil {
			return err
		}
		r.Shared = res != 0
		return nil
	}
	return remote.ErrUnsupported
}

// ControlHandle applies a control request to the domain that owns h.
func (m *Manager) ControlHandle(h LocalHandle, req interface{}) error {
	id, err := m.DomainOf(h)
	if err != nil {
		return err
	}
	return m.Control(id, req)
}

func (d *Domain) query(kind ControlKind) (uint32, error) {
	s, err := d.mgr.OpenDev(d.id)
	if err != nil {
		return 0, err
	}
	req := &ControlRequest{Kind: kind}
	if err := s.dev.Control(req); err != nil {
		return 0, err
	}
	return req.Result, nil
}

// Limits on remote thread parameters.
const (
	MinThreadPriority  = 1
	MaxThreadPriority  = 255
	MinThreadStackSize = 16 * 1024
	MaxThreadStackSize = 8 * 1024 * 1024
)

// AllDomains selects every domain in a session control request.
const AllDomains remote.DomainID = -1

// ThreadParams sets the priority and stack size of the remote
// process's threads.  A value of -1 keeps the current setting.
type ThreadParams struct {
	Domain    remote.DomainID
	Prio      int
	StackSize int
}

// UnsignedModule asks for the unsigned shell on the next session.
type UnsignedModule struct {
	Domain remote.DomainID
	Enable bool
}

// SessionControl changes how future sessions are created.  req is
// *ThreadParams or *UnsignedModule.  Settings cannot change while the
// session they would affect is open.
func (m *Manager) SessionControl(req interface{}) error {
	switch r := req.(type) {
	case *ThreadParams:
		if r.Prio != -1 && (r.Prio < MinThreadPriority || r.Prio > MaxThreadPriority) {
			return remote.ErrBadParm
		}
		if r.StackSize != -1 && (r.StackSize < MinThreadStackSize || r.StackSize > MaxThreadStackSize) {
			return remote.ErrBadParm
		}
		return m.eachDomain(r.Domain, func(d *Domain) error {
			return d.setThreadParams(r.Prio, r.StackSize)
		})
	case *UnsignedModule:
		return m.eachDomain(r.Domain, func(d *Domain) error {
			d.lock.Lock()
			defer d.lock.Unlock()
			if d.state != stateClosed {
				return remote.ErrNotAllowed
			}
			d.unsignedModule = r.Enable
			return nil
		})
	}
	return remote.ErrUnsupported
}

func (m *Manager) eachDomain(id remote.DomainID, f func(d *Domain) error) error {
	if id == AllDomains {
		for _, d := range m.domains {
			if err := f(d); err != nil {
				return err
			}
		}
		return nil
	}
	d, err := m.Domain(id)
	if err != nil {
		return err
	}
	return f(d)
}

func (d *Domain) setThreadParams(prio, stack int) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.state != stateClosed {
		return remote.ErrNotAllowed
	}
	if prio != -1 {
		d.thread.prio = prio
	}
	if stack != -1 {
		d.thread.stack = stack
	}
	d.thread.set = true
	d.logger().WithFields(logrus.Fields{
		"prio":  d.thread.prio,
		"stack": d.thread.stack,
	}).Debug("thread parameters")
	return nil
}

// SetMode records a process mode for every domain; it is applied
// when each domain's next session opens.
func (m *Manager) SetMode(mode uint32) {
	for _, d := range m.domains {
		d.lock.Lock()
		d.setMode = true
		d.modeValue = mode
		d.lock.Unlock()
	}
}

// RegisterBuf records that buf is backed by fd.  An fd of -1
// unregisters it.
func (m *Manager) RegisterBuf(buf []byte, fd int32, attr uint32) error {
	return m.fds.Register(buf, fd, attr)
}

// UnregisterBuf drops a registration made by RegisterBuf.
func (m *Manager) UnregisterBuf(buf []byte) error {
	return m.fds.Unregister(buf)
}

// RegisterFD reserves address space standing for fd.
func (m *Manager) RegisterFD(fd int32, size int, attr uint32) ([]byte, error) {
	return m.fds.RegisterFD(fd, size, attr)
}

// UnregisterFD releases a reservation made by RegisterFD.
func (m *Manager) UnregisterFD(buf []byte) error {
	return m.fds.UnregisterFD(buf)
}

// RegisterDMAHandle records a DMA buffer passed as a handle argument.
func (m *Manager) RegisterDMAHandle(fd int32, length, attr uint32) error {
	return m.dma.Register(fd, length, attr)
}

// UnregisterDMAHandle drops a DMA registration.
func (m *Manager) UnregisterDMAHandle(fd int32) error {
	return m.dma.Unregister(fd)
}

// Mmap maps a buffer into domain id's remote process.
func (m *Manager) Mmap(id remote.DomainID, req *MmapRequest) error {
	s, err := m.OpenDev(id)
	if err != nil {
		return err
	}
	return s.dev.Mmap(req)
}

// Munmap removes a remote mapping from domain id.
func (m *Manager) Munmap(id remote.DomainID, req *MunmapRequest) error {
	s, err := m.OpenDev(id)
	if err != nil {
		return err
	}
	return s.dev.Munmap(req)
}
