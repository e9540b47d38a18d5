// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package domain

import (
	"fmt"

	"github.com/diffeo/go-fastrpc/remote"
)

// AttachMode selects how a session reaches its remote process.
type AttachMode int

const (
	// UserPD creates a fresh user process domain from a shell image.
	UserPD AttachMode = iota

	// GuestOS attaches to the remote guest OS process.
	GuestOS

	// GuestOSShared attaches to the shared root process.
	GuestOSShared

	// StaticPD creates a named static process domain.
	StaticPD

	// SensorsPD attaches to the sensors process domain.
	SensorsPD
)

func (m AttachMode) String() string {
	switch m {
	case UserPD:
		return "userpd"
	case GuestOS:
		return "guestos"
	case GuestOSShared:
		return "guestos-shared"
	case StaticPD:
		return "staticpd"
	case SensorsPD:
		return "sensorspd"
	}
	return fmt.Sprintf("attach(%d)", int(m))
}

func defaultAttach(id remote.DomainID) AttachMode {
	switch id.Base() {
	case remote.ADSP, remote.MDSP, remote.CDSP:
		return UserPD
	}
	return GuestOS
}

// Process attribute bits sent when a user process domain is created.
const (
	AttrDebug          uint32 = 0x1
	AttrPtrace         uint32 = 0x2
	AttrCRC            uint32 = 0x4
	AttrUnsignedModule uint32 = 0x8
	AttrAdaptiveQoS    uint32 = 0x10
)

// Device is an open channel to one remote domain.  Every method may
// block; implementations must allow concurrent Invoke calls.
type Device interface {
	// Invoke carries out one call on the remote side.
	Invoke(req *InvokeRequest) error

	// InitAttach attaches the channel to an existing remote
	// process (GuestOS, GuestOSShared or SensorsPD).
	InitAttach(mode AttachMode) error

	// InitCreate creates a user process domain.
	InitCreate(req *CreateRequest) error

	// InitCreateStatic creates a named static process domain.
	InitCreateStatic(req *CreateStaticRequest) error

	// Alloc allocates a buffer shared with the remote side.
	Alloc(size int) (*SharedBuffer, error)

	// Free releases a buffer from Alloc.
	Free(buf *SharedBuffer) error

	// Mmap maps a buffer into the remote process.
	Mmap(req *MmapRequest) error

	// Munmap undoes Mmap.
	Munmap(req *MunmapRequest) error

	// Control issues a control request.
	Control(req *ControlRequest) error

	// Close releases the channel.  Calls in flight fail.
	Close() error
}

// Opener opens the device for a domain.
type Opener interface {
	Open(id remote.DomainID) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(id remote.DomainID) (Device, error)

// Open calls f.
func (f OpenerFunc) Open(id remote.DomainID) (Device, error) { return f(id) }

// InvokeRequest is one call handed to a Device.
type InvokeRequest struct {
	Handle  uint32
	Scalars remote.Scalars
	Args    []remote.Arg

	// FDs and Attrs have one entry per buffer argument: the
	// registered file descriptor backing the buffer, or -1.
	FDs   []int32
	Attrs []uint32

	// DMA lists registered DMA handles passed as handle arguments.
	DMA []DMAHandle

	// CRC, when non-nil, receives the remote side's checksum of
	// each output buffer.
	CRC []uint32
}

// SharedBuffer is memory shared with the remote side.
type SharedBuffer struct {
	FD   int32
	Data []byte
}

// CreateRequest describes a new user process domain.
type CreateRequest struct {
	// File holds the shell image followed by its signature.
	File    *SharedBuffer
	FileLen int
	SigLen  int
	Attrs   uint32
}

// CreateStaticRequest names a static process domain.
type CreateStaticRequest struct {
	Name string
}

// MmapRequest maps FD into the remote process; VAddrOut is filled in.
type MmapRequest struct {
	FD       int32
	Flags    uint32
	VAddrIn  uint64
	Size     uint64
	VAddrOut uint64
}

// MunmapRequest unmaps a remote mapping.
type MunmapRequest struct {
	VAddr uint64
	Size  uint64
}

// ControlKind selects a device control request.
type ControlKind int

// Device control requests.
const (
	// ControlLatency votes for (Enable) or against a latency
	// target of Latency microseconds.
	ControlLatency ControlKind = iota + 1

	// ControlSMMU reports in Result whether the domain uses a
	// shared context bank.
	ControlSMMU

	// ControlKernelAlloc reports in Result whether the kernel
	// supports allocating on the caller's behalf.
	ControlKernelAlloc

	// ControlSetMode applies a process mode set by SetMode.
	ControlSetMode
)

// ControlRequest is a device control request.
type ControlRequest struct {
	Kind    ControlKind
	Enable  bool
	Latency uint32
	Mode    uint32
	Result  uint32
}
