// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package wire

// Fixed-layout records exchanged with the kernel device.  Each record
// marshals to exactly SizeBytes() little-endian bytes with no
// implicit padding beyond what the layout names.

// Invoke64 is the invocation header in the native 64-bit layout.
type Invoke64 struct {
	Ctx     uint64
	Handle  uint32
	Scalars uint32
	Args    uint64
}

// SizeBytes returns the marshaled size.
func (*Invoke64) SizeBytes() int { return 24 }

// MarshalBytes writes i into dst.
func (i *Invoke64) MarshalBytes(dst []byte) {
	order.PutUint64(dst[0:], i.Ctx)
	order.PutUint32(dst[8:], i.Handle)
	order.PutUint32(dst[12:], i.Scalars)
	order.PutUint64(dst[16:], i.Args)
}

// UnmarshalBytes reads i from src.
func (i *Invoke64) UnmarshalBytes(src []byte) {
	i.Ctx = order.Uint64(src[0:])
	i.Handle = order.Uint32(src[8:])
	i.Scalars = order.Uint32(src[12:])
	i.Args = order.Uint64(src[16:])
}

// Invoke32 is the invocation header as a 32-bit caller lays it out.
type Invoke32 struct {
	Ctx     uint32
	Handle  uint32
	Scalars uint32
	Args    uint32
}

// SizeBytes returns the marshaled size.
func (*Invoke32) SizeBytes() int { return 16 }

// MarshalBytes writes i into dst.
func (i *Invoke32) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], i.Ctx)
	order.PutUint32(dst[4:], i.Handle)
	order.PutUint32(dst[8:], i.Scalars)
	order.PutUint32(dst[12:], i.Args)
}

// UnmarshalBytes reads i from src.
func (i *Invoke32) UnmarshalBytes(src []byte) {
	i.Ctx = order.Uint32(src[0:])
	i.Handle = order.Uint32(src[4:])
	i.Scalars = order.Uint32(src[8:])
	i.Args = order.Uint32(src[12:])
}

// InvokeArg64 describes one buffer argument: where it is, how long it
// is, and which registered file descriptor backs it (-1 for none).
type InvokeArg64 struct {
	Ptr    uint64
	Length uint64
	FD     int32
	Attr   uint32
}

// SizeBytes returns the marshaled size.
func (*InvokeArg64) SizeBytes() int { return 24 }

// MarshalBytes writes a into dst.
func (a *InvokeArg64) MarshalBytes(dst []byte) {
	order.PutUint64(dst[0:], a.Ptr)
	order.PutUint64(dst[8:], a.Length)
	order.PutUint32(dst[16:], uint32(a.FD))
	order.PutUint32(dst[20:], a.Attr)
}

// UnmarshalBytes reads a from src.
func (a *InvokeArg64) UnmarshalBytes(src []byte) {
	a.Ptr = order.Uint64(src[0:])
	a.Length = order.Uint64(src[8:])
	a.FD = int32(order.Uint32(src[16:]))
	a.Attr = order.Uint32(src[20:])
}

// InvokeArg32 is the narrower argument encoding of 32-bit callers.
type InvokeArg32 struct {
	Ptr    uint32
	Length uint32
	FD     int32
	Attr   uint32
}

// SizeBytes returns the marshaled size.
func (*InvokeArg32) SizeBytes() int { return 16 }

// MarshalBytes writes a into dst.
func (a *InvokeArg32) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], a.Ptr)
	order.PutUint32(dst[4:], a.Length)
	order.PutUint32(dst[8:], uint32(a.FD))
	order.PutUint32(dst[12:], a.Attr)
}

// UnmarshalBytes reads a from src.
func (a *InvokeArg32) UnmarshalBytes(src []byte) {
	a.Ptr = order.Uint32(src[0:])
	a.Length = order.Uint32(src[4:])
	a.FD = int32(order.Uint32(src[8:]))
	a.Attr = order.Uint32(src[12:])
}

// Page64 is a physical page range.
type Page64 struct {
	Addr uint64
	Size uint64
}

// SizeBytes returns the marshaled size.
func (*Page64) SizeBytes() int { return 16 }

// MarshalBytes writes p into dst.
func (p *Page64) MarshalBytes(dst []byte) {
	order.PutUint64(dst[0:], p.Addr)
	order.PutUint64(dst[8:], p.Size)
}

// UnmarshalBytes reads p from src.
func (p *Page64) UnmarshalBytes(src []byte) {
	p.Addr = order.Uint64(src[0:])
	p.Size = order.Uint64(src[8:])
}

// Page32 is a physical page range in the 32-bit layout.
type Page32 struct {
	Addr uint32
	Size uint32
}

// SizeBytes returns the marshaled size.
func (*Page32) SizeBytes() int { return 8 }

// MarshalBytes writes p into dst.
func (p *Page32) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], p.Addr)
	order.PutUint32(dst[4:], p.Size)
}

// UnmarshalBytes reads p from src.
func (p *Page32) UnmarshalBytes(src []byte) {
	p.Addr = order.Uint32(src[0:])
	p.Size = order.Uint32(src[4:])
}

// Message64 is a complete invocation record in the native layout:
// header, argument array, then page descriptors.
type Message64 struct {
	Header Invoke64
	Args   []InvokeArg64
	Pages  []Page64
}

// SizeBytes returns the marshaled size.
func (m *Message64) SizeBytes() int {
	return 8 + m.Header.SizeBytes() +
		len(m.Args)*(*InvokeArg64)(nil).SizeBytes() +
		len(m.Pages)*(*Page64)(nil).SizeBytes()
}

// MarshalBytes writes m into dst.  The record starts with the
// argument and page counts so that it can be decoded on its own.
func (m *Message64) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], uint32(len(m.Args)))
	order.PutUint32(dst[4:], uint32(len(m.Pages)))
	dst = dst[8:]
	m.Header.MarshalBytes(dst)
	dst = dst[m.Header.SizeBytes():]
	for i := range m.Args {
		m.Args[i].MarshalBytes(dst)
		dst = dst[m.Args[i].SizeBytes():]
	}
	for i := range m.Pages {
		m.Pages[i].MarshalBytes(dst)
		dst = dst[m.Pages[i].SizeBytes():]
	}
}

// UnmarshalBytes reads m from src, failing if src is short.
func (m *Message64) UnmarshalBytes(src []byte) error {
	if len(src) < 8 {
		return errShort
	}
	nArgs := int(order.Uint32(src[0:]))
	nPages := int(order.Uint32(src[4:]))
	if len(src) < 8+m.Header.SizeBytes()+nArgs*24+nPages*16 {
		return errShort
	}
	m.Args = make([]InvokeArg64, nArgs)
	m.Pages = make([]Page64, nPages)
	src = src[8:]
	m.Header.UnmarshalBytes(src)
	src = src[m.Header.SizeBytes():]
	for i := range m.Args {
		m.Args[i].UnmarshalBytes(src)
		src = src[m.Args[i].SizeBytes():]
	}
	for i := range m.Pages {
		m.Pages[i].UnmarshalBytes(src)
		src = src[m.Pages[i].SizeBytes():]
	}
	return nil
}

// Message32 is a complete invocation record in the 32-bit layout.
type Message32 struct {
	Header Invoke32
	Args   []InvokeArg32
	Pages  []Page32
}

// SizeBytes returns the marshaled size.
func (m *Message32) SizeBytes() int {
	return 8 + m.Header.SizeBytes() +
		len(m.Args)*(*InvokeArg32)(nil).SizeBytes() +
		len(m.Pages)*(*Page32)(nil).SizeBytes()
}

// MarshalBytes writes m into dst.
func (m *Message32) MarshalBytes(dst []byte) {
	order.PutUint32(dst[0:], uint32(len(m.Args)))
	order.PutUint32(dst[4:], uint32(len(m.Pages)))
	dst = dst[8:]
	m.Header.MarshalBytes(dst)
	dst = dst[m.Header.SizeBytes():]
	for i := range m.Args {
		m.Args[i].MarshalBytes(dst)
		dst = dst[m.Args[i].SizeBytes():]
	}
	for i := range m.Pages {
		m.Pages[i].MarshalBytes(dst)
		dst = dst[m.Pages[i].SizeBytes():]
	}
}

// UnmarshalBytes reads m from src, failing if src is short.
func (m *Message32) UnmarshalBytes(src []byte) error {
	if len(src) < 8 {
		return errShort
	}
	nArgs := int(order.Uint32(src[0:]))
	nPages := int(order.Uint32(src[4:]))
	if len(src) < 8+m.Header.SizeBytes()+nArgs*16+nPages*8 {
		return errShort
	}
	m.Args = make([]InvokeArg32, nArgs)
	m.Pages = make([]Page32, nPages)
	src = src[8:]
	m.Header.UnmarshalBytes(src)
	src = src[m.Header.SizeBytes():]
	for i := range m.Args {
		m.Args[i].UnmarshalBytes(src)
		src = src[m.Args[i].SizeBytes():]
	}
	for i := range m.Pages {
		m.Pages[i].UnmarshalBytes(src)
		src = src[m.Pages[i].SizeBytes():]
	}
	return nil
}
