// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memory

import (
	"errors"
	"sync"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/listener"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/remotectl"
	"github.com/diffeo/go-fastrpc/wire"
)

// Address of the first emulated remote mapping.
const firstVAddr = 0x10000000

// Device is one emulated remote process.
type Device struct {
	b     *Backend
	id    remote.DomainID
	table *modtable.Table
	queue *listener.Queue

	lock        sync.Mutex
	closed      bool
	exited      bool
	threadExits int
	attached    bool
	mode        domain.AttachMode
	staticName  string
	attrs       uint32
	image       []byte
	sigLen      int
	params      [][]uint32
	controls    []domain.ControlRequest
	buffers     map[int32]*domain.SharedBuffer
	nextFD      int32
	mappings    map[uint64]domain.MmapRequest
	nextVAddr   uint64
	invokes     int
	pages       int
}

func newDevice(b *Backend, id remote.DomainID) *Device {
	d := &Device{
		b:         b,
		id:        id,
		table:     modtable.New(nil),
		queue:     listener.NewQueue(),
		buffers:   make(map[int32]*domain.SharedBuffer),
		nextFD:    100,
		mappings:  make(map[uint64]domain.MmapRequest),
		nextVAddr: firstVAddr,
	}
	d.table.RegisterConst(remote.RemotectlHandle, "remotectl", remotectl.Skel(control{d}))
	d.table.RegisterConst(remote.ListenerHandle, "listener", d.queue.Skel())
	d.table.RegisterConst(remote.CurrentProcessHandle, "current_process", remotectl.ProcessSkel(d))
	return d
}

// control serves the remote control interface from the device's
// module table.
type control struct {
	d *Device
}

func (c control) Open(uri string) (uint32, error) { return c.d.table.Open(uri) }

func (c control) Close(h uint32) error { return c.d.table.Close(h) }

func (c control) SetParam(req uint32, params []uint32) error {
	c.d.lock.Lock()
	defer c.d.lock.Unlock()
	c.d.params = append(c.d.params, append([]uint32{req}, params...))
	return nil
}

// Exit implements remotectl.Process.
func (d *Device) Exit() error {
	d.lock.Lock()
	d.exited = true
	d.lock.Unlock()
	d.queue.Close()
	return nil
}

// ThreadExit implements remotectl.Process.
func (d *Device) ThreadExit() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.threadExits++
	return nil
}

// Call invokes a host module from the remote side, through the host's
// listener.
func (d *Device) Call(handle uint32, sc remote.Scalars, args []remote.Arg) error {
	return d.queue.Call(handle, sc, args)
}

// Table returns the remote module table.
func (d *Device) Table() *modtable.Table { return d.table }

func (d *Device) live() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return remote.ErrDeviceClosed
	}
	return nil
}

// Invoke implements domain.Device.  The call is encoded, decoded into
// fresh arguments, run against the remote module table, and the
// response is encoded and decoded back into req.Args.  Output is not
// copied back when the call fails.
func (d *Device) Invoke(req *domain.InvokeRequest) error {
	if err := d.live(); err != nil {
		return err
	}
	if err := d.b.failure(d.id, OpInvoke); err != nil {
		return err
	}

	rec, data, err := d.record(req)
	if err != nil {
		return err
	}
	sc := remote.Scalars(rec.Header.Scalars)
	args := make([]remote.Arg, sc.Len())
	if err := wire.Decode(wire.Request, sc, data, args); err != nil {
		return err
	}
	// Only the status code crosses a real device.
	err = remote.FromCode(remote.Code(d.table.Invoke(rec.Header.Handle, sc, args)))
	if err != nil && !errors.Is(err, remote.ErrBufferTooSmall) {
		return err
	}
	resp, eerr := wire.Encode(wire.Response, sc, args, wire.Options{})
	if eerr != nil {
		return eerr
	}
	if derr := wire.Decode(wire.Response, sc, resp.Data, req.Args); derr != nil {
		return derr
	}
	if req.CRC != nil {
		for i := range req.CRC {
			req.CRC[i] = wire.CRC32(args[sc.InBufs()+i].Buf)
		}
	}
	return err
}

// record encodes req the way the host hands it to the remote side,
// returning the invocation record and the primary buffer it points at.
func (d *Device) record(req *domain.InvokeRequest) (wire.Message64, []byte, error) {
	base := d.b.CallBase
	if base == 0 {
		base = DefaultCallBase
	}
	msg, err := wire.Encode(wire.Request, req.Scalars, req.Args, wire.Options{Base: base, PageSize: d.b.PageSize})
	if err != nil {
		return wire.Message64{}, nil, err
	}
	d.lock.Lock()
	d.invokes++
	ctx := uint64(d.invokes)
	d.lock.Unlock()
	rec := msg.Record(req.Handle, req.Scalars, ctx, base)
	if d.b.Compat32 {
		narrow, err := wire.To32(rec)
		if err != nil {
			return wire.Message64{}, nil, err
		}
		rec = wire.To64(narrow)
	}
	end := rec.Header.Args + uint64(len(msg.Data))
	for _, a := range rec.Args {
		if a.Ptr < rec.Header.Args || a.Ptr > end {
			return wire.Message64{}, nil, remote.ErrBadParm
		}
	}
	var pages uint64
	if d.b.PageSize > 0 {
		for _, p := range rec.Pages {
			pages += p.Size / d.b.PageSize
		}
	}
	d.lock.Lock()
	d.pages += int(pages)
	d.lock.Unlock()
	return rec, msg.Data, nil
}

// InitAttach implements domain.Device.
func (d *Device) InitAttach(mode domain.AttachMode) error {
	if err := d.b.failure(d.id, OpAttach); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.attached = true
	d.mode = mode
	return nil
}

// InitCreate implements domain.Device.
func (d *Device) InitCreate(req *domain.CreateRequest) error {
	if err := d.b.failure(d.id, OpCreate); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if req.File != nil {
		if _, ok := d.buffers[req.File.FD]; !ok || req.FileLen > len(req.File.Data) {
			return remote.ErrBadParm
		}
		d.image = append([]byte(nil), req.File.Data[:req.FileLen]...)
	}
	d.attached = true
	d.mode = domain.UserPD
	d.attrs = req.Attrs
	d.sigLen = req.SigLen
	return nil
}

// InitCreateStatic implements domain.Device.
func (d *Device) InitCreateStatic(req *domain.CreateStaticRequest) error {
	if err := d.b.failure(d.id, OpCreate); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.attached = true
	d.mode = domain.StaticPD
	d.staticName = req.Name
	return nil
}

// Alloc implements domain.Device.
func (d *Device) Alloc(size int) (*domain.SharedBuffer, error) {
	if size < 0 {
		return nil, remote.ErrBadParm
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	buf := &domain.SharedBuffer{FD: d.nextFD, Data: make([]byte, size)}
	d.buffers[buf.FD] = buf
	d.nextFD++
	return buf, nil
}

// Free implements domain.Device.
func (d *Device) Free(buf *domain.SharedBuffer) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, ok := d.buffers[buf.FD]; !ok {
		return remote.ErrBadParm
	}
	delete(d.buffers, buf.FD)
	return nil
}

// Mmap implements domain.Device.
func (d *Device) Mmap(req *domain.MmapRequest) error {
	if err := d.b.failure(d.id, OpMmap); err != nil {
		return err
	}
	if req.Size == 0 {
		return remote.ErrBadParm
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	req.VAddrOut = d.nextVAddr
	d.nextVAddr += (req.Size + 0xfff) &^ 0xfff
	d.mappings[req.VAddrOut] = *req
	return nil
}

// Munmap implements domain.Device.
func (d *Device) Munmap(req *domain.MunmapRequest) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	m, ok := d.mappings[req.VAddr]
	if !ok || m.Size != req.Size {
		return remote.ErrBadParm
	}
	delete(d.mappings, req.VAddr)
	return nil
}

// Control implements domain.Device.
func (d *Device) Control(req *domain.ControlRequest) error {
	if err := d.b.failure(d.id, OpControl); err != nil {
		return err
	}
	switch req.Kind {
	case domain.ControlKernelAlloc:
		req.Result = boolResult(d.b.KernelAlloc)
	case domain.ControlSMMU:
		req.Result = boolResult(d.b.SMMU)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.controls = append(d.controls, *req)
	return nil
}

func boolResult(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Close implements domain.Device.
func (d *Device) Close() error {
	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return remote.ErrDeviceClosed
	}
	d.closed = true
	d.lock.Unlock()
	d.queue.Close()
	d.table.Shutdown()
	return nil
}
