// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package chardev drives the kernel character device that carries
// calls to remote domains.
package chardev

import (
	"errors"
	"runtime"
	"sync"
	"unsafe"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Device is an open device node.  It implements domain.Device.
type Device struct {
	id        remote.DomainID
	fd        int
	ioctl     ioctlFunc
	log       *logrus.Entry
	heapFlags uint32

	lock   sync.Mutex
	closed bool
	// mapped holds the host mappings of buffers from Alloc.
	mapped map[int32][]byte
}

func addr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func (d *Device) do(req uintptr, arg []byte) error {
	d.lock.Lock()
	closed := d.closed
	d.lock.Unlock()
	if closed {
		return remote.ErrDeviceClosed
	}
	return mapErrno(d.ioctl(d.fd, req, arg))
}

// mapErrno turns a kernel error into a status code.
func mapErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.ENOMEM:
		return remote.ErrNoMemory
	case unix.EINVAL, unix.EFAULT:
		return remote.ErrBadParm
	case unix.EBADF, unix.ENODEV:
		return remote.ErrInvalidDevice
	case unix.EBADR:
		return remote.ErrBadHandle
	case unix.EPERM, unix.EACCES:
		return remote.ErrNotAllowed
	case unix.ENOTTY, unix.EOPNOTSUPP:
		return remote.ErrUnsupported
	case unix.ECONNRESET, unix.EPIPE:
		return remote.ErrDeviceClosed
	}
	return remote.ErrFailed
}

// Invoke implements domain.Device.  Buffers are passed by address and
// pinned for the duration of the call; handles travel in the pointer
// slot of their argument record.
func (d *Device) Invoke(req *domain.InvokeRequest) error {
	sc := req.Scalars
	var pin runtime.Pinner
	defer pin.Unpin()

	msg := wire.Message64{
		Header: wire.Invoke64{Handle: req.Handle, Scalars: uint32(sc)},
		Args:   make([]wire.InvokeArg64, sc.Len()),
	}
	for i := range msg.Args {
		arg := &msg.Args[i]
		arg.FD = -1
		if i >= sc.Buffers() {
			arg.Ptr = req.Args[i].Handle
			continue
		}
		buf := req.Args[i].Buf
		if len(buf) > 0 {
			pin.Pin(&buf[0])
		}
		arg.Ptr = addr(buf)
		arg.Length = uint64(len(buf))
		if req.FDs != nil {
			arg.FD = req.FDs[i]
		}
		if req.Attrs != nil {
			arg.Attr = req.Attrs[i]
		}
	}

	// One spare byte keeps recs addressable for calls without
	// arguments.
	recs := make([]byte, sizeInvokeArg*len(msg.Args)+1)
	for i := range msg.Args {
		msg.Args[i].MarshalBytes(recs[i*sizeInvokeArg:])
	}
	pin.Pin(&recs[0])
	msg.Header.Args = addr(recs)

	var rec [sizeInvoke]byte
	(&invokeRecord{Handle: msg.Header.Handle, Scalars: msg.Header.Scalars, Args: msg.Header.Args}).MarshalBytes(rec[:])
	if err := d.do(ioctlInvoke, rec[:]); err != nil {
		return err
	}
	for i := sc.Buffers() + sc.InHandles(); i < sc.Len(); i++ {
		var arg wire.InvokeArg64
		arg.UnmarshalBytes(recs[i*sizeInvokeArg:])
		req.Args[i].Handle = arg.Ptr
	}
	// The device does not report checksums.
	req.CRC = nil
	return nil
}

// InitAttach implements domain.Device.
func (d *Device) InitAttach(mode domain.AttachMode) error {
	switch mode {
	case domain.GuestOS, domain.GuestOSShared:
		return d.do(ioctlInitAttach, nil)
	case domain.SensorsPD:
		return d.do(ioctlAttachSNS, nil)
	}
	return remote.ErrBadParm
}

// InitCreate implements domain.Device.
func (d *Device) InitCreate(req *domain.CreateRequest) error {
	r := createRecord{
		FileFD: -1,
		Attrs:  req.Attrs,
		SigLen: uint32(req.SigLen),
	}
	var pin runtime.Pinner
	defer pin.Unpin()
	if req.File != nil && req.FileLen > 0 {
		pin.Pin(&req.File.Data[0])
		r.File = addr(req.File.Data)
		r.FileLen = uint32(req.FileLen)
		r.FileFD = req.File.FD
	}
	var rec [sizeCreate]byte
	r.MarshalBytes(rec[:])
	return d.do(ioctlInitCreate, rec[:])
}

// InitCreateStatic implements domain.Device.
func (d *Device) InitCreateStatic(req *domain.CreateStaticRequest) error {
	name := append([]byte(req.Name), 0)
	var pin runtime.Pinner
	defer pin.Unpin()
	pin.Pin(&name[0])
	var rec [sizeCreateStatic]byte
	(&createStaticRecord{NameLen: uint32(len(name)), Name: addr(name)}).MarshalBytes(rec[:])
	return d.do(ioctlCreateStatic, rec[:])
}

// Alloc implements domain.Device.  The buffer is allocated by the
// device and mapped into this process.
func (d *Device) Alloc(size int) (*domain.SharedBuffer, error) {
	if size <= 0 {
		return nil, remote.ErrBadParm
	}
	r := allocDMARecord{FD: -1, Flags: d.heapFlags, Size: uint64(size)}
	var rec [sizeAllocDMA]byte
	r.MarshalBytes(rec[:])
	if err := d.do(ioctlAllocDMA, rec[:]); err != nil {
		return nil, err
	}
	r.UnmarshalBytes(rec[:])
	data, err := unix.Mmap(int(r.FD), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		d.free(r.FD)
		return nil, remote.ErrNoMemory
	}
	d.lock.Lock()
	d.mapped[r.FD] = data
	d.lock.Unlock()
	return &domain.SharedBuffer{FD: r.FD, Data: data}, nil
}

// Free implements domain.Device.
func (d *Device) Free(buf *domain.SharedBuffer) error {
	d.lock.Lock()
	data, ok := d.mapped[buf.FD]
	delete(d.mapped, buf.FD)
	d.lock.Unlock()
	if !ok {
		return remote.ErrBadParm
	}
	if err := unix.Munmap(data); err != nil {
		d.log.WithError(err).Warn("unmapping shared buffer")
	}
	return d.free(buf.FD)
}

func (d *Device) free(fd int32) error {
	var rec [4]byte
	order.PutUint32(rec[:], uint32(fd))
	err := d.do(ioctlFreeDMA, rec[:])
	if cerr := unix.Close(int(fd)); err == nil && cerr != nil {
		err = mapErrno(cerr)
	}
	return err
}

// Mmap implements domain.Device.
func (d *Device) Mmap(req *domain.MmapRequest) error {
	r := mmapRecord{FD: req.FD, Flags: req.Flags, VAddrIn: req.VAddrIn, Size: req.Size}
	var rec [sizeMmap]byte
	r.MarshalBytes(rec[:])
	if err := d.do(ioctlMmap, rec[:]); err != nil {
		return err
	}
	r.UnmarshalBytes(rec[:])
	req.VAddrOut = r.VAddrOut
	return nil
}

// Munmap implements domain.Device.
func (d *Device) Munmap(req *domain.MunmapRequest) error {
	var rec [sizeMunmap]byte
	(&munmapRecord{VAddr: req.VAddr, Size: req.Size}).MarshalBytes(rec[:])
	return d.do(ioctlMunmap, rec[:])
}

// Control implements domain.Device.
func (d *Device) Control(req *domain.ControlRequest) error {
	var r controlRecord
	switch req.Kind {
	case domain.ControlLatency:
		r.Req = controlLatency
		if req.Enable {
			r.Value = 1
		}
		r.Level = req.Latency
	case domain.ControlSMMU:
		r.Req = controlSMMU
	case domain.ControlKernelAlloc:
		r.Req = controlKAlloc
	case domain.ControlSetMode:
		var rec [4]byte
		order.PutUint32(rec[:], req.Mode)
		return d.do(ioctlSetMode, rec[:])
	default:
		return remote.ErrBadParm
	}
	var rec [sizeControl]byte
	r.MarshalBytes(rec[:])
	if err := d.do(ioctlControl, rec[:]); err != nil {
		return err
	}
	r.UnmarshalBytes(rec[:])
	req.Result = r.Value
	return nil
}

// Close implements domain.Device.  Shared buffers still mapped are
// released first.
func (d *Device) Close() error {
	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return remote.ErrDeviceClosed
	}
	mapped := d.mapped
	d.mapped = make(map[int32][]byte)
	d.lock.Unlock()
	for fd, data := range mapped {
		if err := unix.Munmap(data); err != nil {
			d.log.WithError(err).Warn("unmapping shared buffer")
		}
		if err := d.free(fd); err != nil {
			d.log.WithError(err).WithField("fd", fd).Warn("freeing shared buffer")
		}
	}
	d.lock.Lock()
	d.closed = true
	d.lock.Unlock()
	return mapErrno(unix.Close(d.fd))
}
