// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package remote

import "fmt"

// Scalars is the 32-bit word describing the shape of one invocation.
//
//	bits 29-31  attributes
//	bits 24-28  method index
//	bits 16-23  number of input buffers
//	bits  8-15  number of output buffers
//	bits  4-7   number of input handles
//	bits  0-3   number of output handles
type Scalars uint32

// Field limits of the scalars word.
const (
	MaxAttr       = 0x7
	MaxMethod     = 0x1f
	MaxInBufs     = 0xff
	MaxOutBufs    = 0xff
	MaxInHandles  = 0x0f
	MaxOutHandles = 0x0f
)

// MakeScalars builds a scalars word, failing with ErrBadScalars if any
// count does not fit its field.
func MakeScalars(method, nIn, nOut, nInHandles, nOutHandles int) (Scalars, error) {
	switch {
	case method < 0 || method > MaxMethod,
		nIn < 0 || nIn > MaxInBufs,
		nOut < 0 || nOut > MaxOutBufs,
		nInHandles < 0 || nInHandles > MaxInHandles,
		nOutHandles < 0 || nOutHandles > MaxOutHandles:
		return 0, ErrBadScalars
	}
	return Scalars(uint32(method)<<24 |
		uint32(nIn)<<16 |
		uint32(nOut)<<8 |
		uint32(nInHandles)<<4 |
		uint32(nOutHandles)), nil
}

// MustScalars is MakeScalars for constant shapes; it panics on a
// shape that cannot be encoded.
func MustScalars(method, nIn, nOut, nInHandles, nOutHandles int) Scalars {
	sc, err := MakeScalars(method, nIn, nOut, nInHandles, nOutHandles)
	if err != nil {
		panic(fmt.Sprintf("remote: bad scalars (%d, %d, %d, %d, %d)",
			method, nIn, nOut, nInHandles, nOutHandles))
	}
	return sc
}

// WithAttr returns a copy of sc with its attribute bits replaced.
func (sc Scalars) WithAttr(attr int) (Scalars, error) {
	if attr < 0 || attr > MaxAttr {
		return sc, ErrBadScalars
	}
	return sc&^(MaxAttr<<29) | Scalars(attr)<<29, nil
}

// Attr returns the attribute bits.
func (sc Scalars) Attr() int { return int(sc>>29) & MaxAttr }

// Method returns the method index.
func (sc Scalars) Method() int { return int(sc>>24) & MaxMethod }

// InBufs returns the number of input buffers.
func (sc Scalars) InBufs() int { return int(sc>>16) & MaxInBufs }

// OutBufs returns the number of output buffers.
func (sc Scalars) OutBufs() int { return int(sc>>8) & MaxOutBufs }

// InHandles returns the number of input handles.
func (sc Scalars) InHandles() int { return int(sc>>4) & MaxInHandles }

// OutHandles returns the number of output handles.
func (sc Scalars) OutHandles() int { return int(sc) & MaxOutHandles }

// Buffers returns the number of buffer arguments.
func (sc Scalars) Buffers() int { return sc.InBufs() + sc.OutBufs() }

// Handles returns the number of handle arguments.
func (sc Scalars) Handles() int { return sc.InHandles() + sc.OutHandles() }

// Len returns the total number of arguments the word describes.
func (sc Scalars) Len() int { return sc.Buffers() + sc.Handles() }

// Check verifies that args is long enough for sc.
func (sc Scalars) Check(args []Arg) error {
	if len(args) < sc.Len() {
		return ErrBadParm
	}
	return nil
}

func (sc Scalars) String() string {
	return fmt.Sprintf("sc(m=%d in=%d out=%d hin=%d hout=%d attr=%d)",
		sc.Method(), sc.InBufs(), sc.OutBufs(),
		sc.InHandles(), sc.OutHandles(), sc.Attr())
}
