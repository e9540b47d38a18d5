// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package domain

import (
	"sync"
	"unsafe"

	"github.com/diffeo/go-fastrpc/remote"
	"golang.org/x/sys/unix"
)

// Mapper reserves and releases address space for RegisterFD.
type Mapper interface {
	Map(size int) ([]byte, error)
	Unmap(b []byte) error
}

// anonMapper reserves inaccessible anonymous memory.
type anonMapper struct{}

func (anonMapper) Map(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (anonMapper) Unmap(b []byte) error {
	return unix.Munmap(b)
}

type region struct {
	start, end uintptr
	fd         int32
	attr       uint32
	refs       int
	reserved   []byte
}

// FDList maps buffer address ranges to the file descriptors that back
// them, so that calls can pass shared memory by reference.
type FDList struct {
	mapper  Mapper
	lock    sync.Mutex
	regions []*region
}

// NewFDList creates an empty list.  A nil mapper reserves anonymous
// memory.
func NewFDList(mapper Mapper) *FDList {
	if mapper == nil {
		mapper = anonMapper{}
	}
	return &FDList{mapper: mapper}
}

func span(buf []byte) (uintptr, uintptr) {
	if len(buf) == 0 {
		return 0, 0
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	return start, start + uintptr(len(buf))
}

// Register records that buf is backed by fd.  Registering the same
// range again adds a reference.  An fd of -1 drops a reference
// instead.
func (l *FDList) Register(buf []byte, fd int32, attr uint32) error {
	if fd == -1 {
		return l.Unregister(buf)
	}
	start, end := span(buf)
	if start == 0 {
		return remote.ErrBadParm
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, r := range l.regions {
		if r.start == start && r.end == end {
			r.refs++
			r.fd = fd
			r.attr = attr
			return nil
		}
	}
	l.regions = append(l.regions, &region{start: start, end: end, fd: fd, attr: attr, refs: 1})
	return nil
}

// Unregister drops one reference to the registration of buf.
func (l *FDList) Unregister(buf []byte) error {
	start, end := span(buf)
	l.lock.Lock()
	defer l.lock.Unlock()
	for i, r := range l.regions {
		if r.start == start && r.end == end && r.reserved == nil {
			r.refs--
			if r.refs == 0 {
				l.regions = append(l.regions[:i], l.regions[i+1:]...)
			}
			return nil
		}
	}
	return remote.ErrBadParm
}

// RegisterFD reserves size bytes of address space standing for fd
// and returns it.  The reservation is not accessible; its address
// identifies fd in calls.
func (l *FDList) RegisterFD(fd int32, size int, attr uint32) ([]byte, error) {
	if size <= 0 {
		return nil, remote.ErrBadParm
	}
	buf, err := l.mapper.Map(size)
	if err != nil {
		return nil, remote.ErrNoMemory
	}
	start, end := span(buf)
	l.lock.Lock()
	l.regions = append(l.regions, &region{start: start, end: end, fd: fd, attr: attr, refs: 1, reserved: buf})
	l.lock.Unlock()
	return buf, nil
}

// UnregisterFD releases a reservation made by RegisterFD.
func (l *FDList) UnregisterFD(buf []byte) error {
	start, end := span(buf)
	l.lock.Lock()
	var found *region
	for i, r := range l.regions {
		if r.start == start && r.end == end && r.reserved != nil {
			found = r
			l.regions = append(l.regions[:i], l.regions[i+1:]...)
			break
		}
	}
	l.lock.Unlock()
	if found == nil {
		return remote.ErrBadParm
	}
	return l.mapper.Unmap(found.reserved)
}

// Lookup finds the registration containing buf.  A buffer outside
// every registration has fd -1; one straddling a registration's
// boundary is an error.
func (l *FDList) Lookup(buf []byte) (int32, uint32, error) {
	start, end := span(buf)
	if start == 0 {
		return -1, 0, nil
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, r := range l.regions {
		if start >= r.start && end <= r.end {
			return r.fd, r.attr, nil
		}
		if start < r.end && end > r.start {
			return -1, 0, remote.ErrBadParm
		}
	}
	return -1, 0, nil
}

// Len returns the number of registrations.
func (l *FDList) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.regions)
}

// MaxDMAHandles bounds the DMA handle table.
const MaxDMAHandles = 256

// DMAHandle is a registered DMA buffer.
type DMAHandle struct {
	FD     int32
	Length uint32
	Attr   uint32
}

// DMATable records DMA buffers by file descriptor.
type DMATable struct {
	lock    sync.Mutex
	entries map[int32]DMAHandle
}

// NewDMATable creates an empty table.
func NewDMATable() *DMATable {
	return &DMATable{entries: make(map[int32]DMAHandle)}
}

// Register adds or updates the entry for fd.
func (t *DMATable) Register(fd int32, length, attr uint32) error {
	if fd < 0 {
		return remote.ErrBadParm
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.entries[fd]; !ok && len(t.entries) >= MaxDMAHandles {
		return remote.ErrOutOfHandles
	}
	t.entries[fd] = DMAHandle{FD: fd, Length: length, Attr: attr}
	return nil
}

// Unregister removes the entry for fd.
func (t *DMATable) Unregister(fd int32) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.entries[fd]; !ok {
		return remote.ErrBadParm
	}
	delete(t.entries, fd)
	return nil
}

// Lookup returns the entry for fd.
func (t *DMATable) Lookup(fd int32) (DMAHandle, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	h, ok := t.entries[fd]
	return h, ok
}
