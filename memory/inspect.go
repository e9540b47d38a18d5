// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memory

import "github.com/diffeo/go-fastrpc/domain"

// State is a snapshot of what the host has done to a device.
type State struct {
	Closed      bool
	Exited      bool
	ThreadExits int
	Attached    bool
	Mode        domain.AttachMode
	StaticName  string
	Attrs       uint32
	Image       []byte
	SigLen      int
	Params      [][]uint32
	Controls    []domain.ControlRequest
	Buffers     int
	Mappings    int
	Invokes     int
	// Pages counts the pages described across all calls.
	Pages int
}

// State returns a snapshot of d.
func (d *Device) State() State {
	d.lock.Lock()
	defer d.lock.Unlock()
	return State{
		Closed:      d.closed,
		Exited:      d.exited,
		ThreadExits: d.threadExits,
		Attached:    d.attached,
		Mode:        d.mode,
		StaticName:  d.staticName,
		Attrs:       d.attrs,
		Image:       d.image,
		SigLen:      d.sigLen,
		Params:      append([][]uint32(nil), d.params...),
		Controls:    append([]domain.ControlRequest(nil), d.controls...),
		Buffers:     len(d.buffers),
		Mappings:    len(d.mappings),
		Invokes:     d.invokes,
		Pages:       d.pages,
	}
}
