// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package memory provides an in-process implementation of the remote
// side of the transport.  Every domain is emulated by a module table
// reached through the same wire encoding a real device would use;
// there is no kernel device and no separate processor.
//
// This is mostly intended for testing, including in-process testing
// of higher-level components.  It is tuned for correctness, not
// performance.
package memory

import (
	"sync"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
)

// Op names a device operation for failure injection.
type Op string

// Device operations that can be made to fail.
const (
	OpOpen    Op = "open"
	OpAttach  Op = "attach"
	OpCreate  Op = "create"
	OpInvoke  Op = "invoke"
	OpControl Op = "control"
	OpMmap    Op = "mmap"
)

// DefaultCallBase is the remote address of call buffers when
// Backend.CallBase is unset.
const DefaultCallBase = 0x40000000

// Backend is a set of emulated remote domains.  It implements
// domain.Opener; each Open starts a fresh remote process.
type Backend struct {
	// KernelAlloc and SMMU are reported by device control queries.
	KernelAlloc bool
	SMMU        bool

	// CallBase is where the remote side sees each call's primary
	// buffer.  Zero means DefaultCallBase.
	CallBase uint64

	// PageSize, if nonzero, has every call describe the pages its
	// input buffers occupy.
	PageSize uint64

	// Compat32 makes the remote processes 32-bit: invocation
	// records are narrowed on the way in, and calls whose
	// addresses do not fit fail with ErrBadParm.
	Compat32 bool

	lock     sync.Mutex
	modules  map[string]modtable.Skel
	devices  map[remote.DomainID]*Device
	opens    map[remote.DomainID]int
	failures map[remote.DomainID]map[Op][]error
}

// New creates a backend with no remote modules.
func New() *Backend {
	return &Backend{
		modules:  make(map[string]modtable.Skel),
		devices:  make(map[remote.DomainID]*Device),
		opens:    make(map[remote.DomainID]int),
		failures: make(map[remote.DomainID]map[Op][]error),
	}
}

// Register makes a module available by name in every remote process
// started after this call.
func (b *Backend) Register(name string, skel modtable.Skel) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.modules[name] = skel
}

// FailNext makes the next op on domain id fail with err.  Repeated
// calls queue up, failing that many ops in a row.
func (b *Backend) FailNext(id remote.DomainID, op Op, err error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.failures[id] == nil {
		b.failures[id] = make(map[Op][]error)
	}
	b.failures[id][op] = append(b.failures[id][op], err)
}

func (b *Backend) failure(id remote.DomainID, op Op) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	errs := b.failures[id][op]
	if len(errs) == 0 {
		return nil
	}
	b.failures[id][op] = errs[1:]
	return errs[0]
}

// Open starts a remote process for domain id.
func (b *Backend) Open(id remote.DomainID) (domain.Device, error) {
	if err := b.failure(id, OpOpen); err != nil {
		return nil, err
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	d := newDevice(b, id)
	for name, skel := range b.modules {
		d.table.RegisterStatic(name, skel)
	}
	b.devices[id] = d
	b.opens[id]++
	return d, nil
}

// Device returns the most recently opened device of domain id, or
// nil.
func (b *Backend) Device(id remote.DomainID) *Device {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.devices[id]
}

// Opens returns how many times domain id has been opened.
func (b *Backend) Opens(id remote.DomainID) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.opens[id]
}
