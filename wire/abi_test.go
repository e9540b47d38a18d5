// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package wire

import (
	"errors"
	"testing"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample32() Message32 {
	return Message32{
		Header: Invoke32{Ctx: 0x11223344, Handle: 0x1234, Scalars: uint32(remote.MustScalars(1, 1, 1, 0, 0)), Args: 0x8000},
		Args: []InvokeArg32{
			{Ptr: 0x9000, Length: 12, FD: -1},
			{Ptr: 0xa000, Length: 0xffffffff, FD: 7, Attr: 1},
		},
		Pages: []Page32{{Addr: 0x9000, Size: 0x1000}},
	}
}

func TestShimRoundTrip(t *testing.T) {
	m32 := sample32()
	m64 := To64(m32)
	back, err := To32(m64)
	require.NoError(t, err)
	assert.Equal(t, m32, back)

	b1 := make([]byte, m32.SizeBytes())
	m32.MarshalBytes(b1)
	b2 := make([]byte, back.SizeBytes())
	back.MarshalBytes(b2)
	assert.Equal(t, b1, b2)
}

func TestShimOverflow(t *testing.T) {
	m64 := To64(sample32())
	m64.Args[0].Ptr = 1 << 40
	_, err := To32(m64)
	assert.True(t, errors.Is(err, remote.ErrBadParm))

	m64 = To64(sample32())
	m64.Header.Ctx = 1 << 33
	_, err = To32(m64)
	assert.True(t, errors.Is(err, remote.ErrBadParm))
}

func TestMessage64Bytes(t *testing.T) {
	m := To64(sample32())
	b := make([]byte, m.SizeBytes())
	m.MarshalBytes(b)
	var got Message64
	require.NoError(t, got.UnmarshalBytes(b))
	assert.Equal(t, m, got)

	assert.Error(t, got.UnmarshalBytes(b[:len(b)-1]))
	assert.Error(t, got.UnmarshalBytes(b[:4]))
}

func TestMessage32Bytes(t *testing.T) {
	m := sample32()
	b := make([]byte, m.SizeBytes())
	m.MarshalBytes(b)
	var got Message32
	require.NoError(t, got.UnmarshalBytes(b))
	assert.Equal(t, m, got)
	assert.Equal(t, int32(7), got.Args[1].FD)
}

func TestRecord(t *testing.T) {
	sc := remote.MustScalars(0, 1, 0, 0, 0)
	msg, err := Encode(Request, sc, []remote.Arg{remote.BufArg([]byte("x"))}, Options{Base: 0x100})
	require.NoError(t, err)
	rec := msg.Record(9, sc, 1, 0x200)
	assert.Equal(t, uint32(9), rec.Header.Handle)
	assert.Equal(t, uint32(sc), rec.Header.Scalars)
	assert.Equal(t, msg.Args, rec.Args)
}

func TestBatch(t *testing.T) {
	bufs := [][]byte{[]byte("one"), {}, []byte("three-three")}
	packed := PackBuffers(nil, bufs)
	assert.Len(t, packed, BatchSize(bufs))
	got, err := UnpackBuffers(packed)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range bufs {
		assert.Equal(t, string(bufs[i]), string(got[i]))
	}

	_, err = UnpackBuffers(packed[:len(packed)-2])
	assert.Equal(t, remote.ErrBadParm, err)
}

func TestBatchReusesDirtyBuffer(t *testing.T) {
	bufs := [][]byte{[]byte("odd"), []byte("x"), {}}
	want := PackBuffers(nil, bufs)
	dirty := make([]byte, 256)
	for i := range dirty {
		dirty[i] = 0xa5
	}
	assert.Equal(t, want, PackBuffers(dirty, bufs))
}

func TestCRC(t *testing.T) {
	assert.Equal(t, uint32(0x89a1897f), CRC32([]byte("123456789")))
	assert.Equal(t, uint32(0), CRC32(nil))
	assert.Equal(t, []uint32{0, 0x89a1897f}, Checksums([][]byte{nil, []byte("123456789")}))
}
