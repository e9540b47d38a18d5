// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package remote

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalarsRoundTrip(t *testing.T) {
	shapes := [][5]int{
		{0, 0, 0, 0, 0},
		{1, 2, 3, 4, 5},
		{MaxMethod, MaxInBufs, MaxOutBufs, MaxInHandles, MaxOutHandles},
		{31, 0, 255, 0, 15},
	}
	for _, s := range shapes {
		sc, err := MakeScalars(s[0], s[1], s[2], s[3], s[4])
		if assert.NoError(t, err, "%v", s) {
			assert.Equal(t, s[0], sc.Method())
			assert.Equal(t, s[1], sc.InBufs())
			assert.Equal(t, s[2], sc.OutBufs())
			assert.Equal(t, s[3], sc.InHandles())
			assert.Equal(t, s[4], sc.OutHandles())
			assert.Equal(t, 0, sc.Attr())
			assert.Equal(t, s[1]+s[2]+s[3]+s[4], sc.Len())
		}
	}
}

func TestScalarsOutOfRange(t *testing.T) {
	bad := [][5]int{
		{MaxMethod + 1, 0, 0, 0, 0},
		{0, MaxInBufs + 1, 0, 0, 0},
		{0, 0, MaxOutBufs + 1, 0, 0},
		{0, 0, 0, MaxInHandles + 1, 0},
		{0, 0, 0, 0, MaxOutHandles + 1},
		{-1, 0, 0, 0, 0},
	}
	for _, s := range bad {
		_, err := MakeScalars(s[0], s[1], s[2], s[3], s[4])
		assert.Equal(t, ErrBadScalars, err, "%v", s)
	}
	assert.Panics(t, func() { MustScalars(0, 0, 0, 0, 16) })
}

func TestScalarsAttr(t *testing.T) {
	sc := MustScalars(3, 1, 1, 0, 0)
	sc2, err := sc.WithAttr(5)
	if assert.NoError(t, err) {
		assert.Equal(t, 5, sc2.Attr())
		assert.Equal(t, 3, sc2.Method())
		assert.Equal(t, 1, sc2.InBufs())
	}
	_, err = sc.WithAttr(8)
	assert.Equal(t, ErrBadScalars, err)
}

func TestScalarsCheck(t *testing.T) {
	sc := MustScalars(0, 2, 1, 0, 1)
	assert.Equal(t, ErrBadParm, sc.Check(make([]Arg, 3)))
	assert.NoError(t, sc.Check(make([]Arg, 4)))
}

func TestCodes(t *testing.T) {
	assert.Equal(t, int32(0), Code(nil))
	assert.Nil(t, FromCode(0))
	assert.Equal(t, int32(ErrBadHandle), Code(ErrBadHandle))
	assert.Equal(t, ErrBadHandle, FromCode(Code(ErrBadHandle)))
	assert.Equal(t, int32(ErrFailed), Code(errors.New("boom")))

	err := ModuleError{URI: "file:///libx.so?x", LoadError: "not found"}
	assert.True(t, errors.Is(err, ErrNoSuchModule))
	assert.Equal(t, int32(ErrNoSuchModule), Code(err))

	derr := DomainError{Domain: CDSP, Op: "open", Err: ErrInvalidDevice}
	assert.True(t, errors.Is(derr, ErrInvalidDevice))
	assert.Contains(t, derr.Error(), "cdsp")
}

func TestDomainIDs(t *testing.T) {
	assert.Equal(t, "cdsp", CDSP.String())
	d := CDSP | SessionBit
	assert.True(t, d.Valid())
	assert.Equal(t, CDSP, d.Base())
	assert.Equal(t, 1, d.Session())
	assert.Equal(t, "cdsp-session1", d.String())
	assert.False(t, DomainID(NumDomainsExtend).Valid())

	id, err := ParseDomain("SDSP")
	assert.NoError(t, err)
	assert.Equal(t, SDSP, id)
	_, err = ParseDomain("gpu")
	assert.Equal(t, ErrInvalidDomain, err)

	assert.True(t, IsConstHandle(RemotectlHandle))
	assert.False(t, IsConstHandle(0x1000))
}
