// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package chardev

import "encoding/binary"

// Records passed to the kernel device, in the kernel's native layout.

var order = binary.NativeEndian

const (
	sizeInvoke       = 16
	sizeInvokeArg    = 24
	sizeCreate       = 24
	sizeCreateStatic = 16
	sizeAllocDMA     = 16
	sizeMmap         = 32
	sizeMunmap       = 16
	sizeControl      = 12
)

type invokeRecord struct {
	Handle  uint32
	Scalars uint32
	Args    uint64
}

func (r *invokeRecord) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], r.Handle)
	order.PutUint32(dst[4:], r.Scalars)
	order.PutUint64(dst[8:], r.Args)
}

type createRecord struct {
	FileLen uint32
	FileFD  int32
	Attrs   uint32
	SigLen  uint32
	File    uint64
}

func (r *createRecord) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], r.FileLen)
	order.PutUint32(dst[4:], uint32(r.FileFD))
	order.PutUint32(dst[8:], r.Attrs)
	order.PutUint32(dst[12:], r.SigLen)
	order.PutUint64(dst[16:], r.File)
}

type createStaticRecord struct {
	NameLen uint32
	MemLen  uint32
	Name    uint64
}

func (r *createStaticRecord) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], r.NameLen)
	order.PutUint32(dst[4:], r.MemLen)
	order.PutUint64(dst[8:], r.Name)
}

type allocDMARecord struct {
	FD    int32
	Flags uint32
	Size  uint64
}

func (r *allocDMARecord) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], uint32(r.FD))
	order.PutUint32(dst[4:], r.Flags)
	order.PutUint64(dst[8:], r.Size)
}

func (r *allocDMARecord) UnmarshalBytes(src []byte) {
	r.FD = int32(order.Uint32(src[0:]))
	r.Flags = order.Uint32(src[4:])
	r.Size = order.Uint64(src[8:])
}

type mmapRecord struct {
	FD       int32
	Flags    uint32
	VAddrIn  uint64
	Size     uint64
	VAddrOut uint64
}

func (r *mmapRecord) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], uint32(r.FD))
	order.PutUint32(dst[4:], r.Flags)
	order.PutUint64(dst[8:], r.VAddrIn)
	order.PutUint64(dst[16:], r.Size)
	order.PutUint64(dst[24:], r.VAddrOut)
}

func (r *mmapRecord) UnmarshalBytes(src []byte) {
	r.FD = int32(order.Uint32(src[0:]))
	r.Flags = order.Uint32(src[4:])
	r.VAddrIn = order.Uint64(src[8:])
	r.Size = order.Uint64(src[16:])
	r.VAddrOut = order.Uint64(src[24:])
}

type munmapRecord struct {
	VAddr uint64
	Size  uint64
}

func (r *munmapRecord) MarshalBytes(dst []byte) {
	order.PutUint64(dst[0:], r.VAddr)
	order.PutUint64(dst[8:], r.Size)
}

// Control request ids.
const (
	controlLatency = 1
	controlSMMU    = 2
	controlKAlloc  = 3
)

// controlRecord carries a request id and two words whose meaning
// depends on it: enable and latency for latency votes, the result
// for queries.
type controlRecord struct {
	Req   uint32
	Value uint32
	Level uint32
}

func (r *controlRecord) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], r.Req)
	order.PutUint32(dst[4:], r.Value)
	order.PutUint32(dst[8:], r.Level)
}

func (r *controlRecord) UnmarshalBytes(src []byte) {
	r.Req = order.Uint32(src[0:])
	r.Value = order.Uint32(src[4:])
	r.Level = order.Uint32(src[8:])
}
