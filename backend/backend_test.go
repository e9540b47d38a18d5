// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package backend

import (
	"flag"
	"testing"

	"github.com/diffeo/go-fastrpc/chardev"
	"github.com/diffeo/go-fastrpc/memory"
	"github.com/diffeo/go-fastrpc/props"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlag(t *testing.T) {
	var b Backend
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&b, "backend", "")
	require.NoError(t, fs.Parse([]string{"-backend", "chardev:/dev/fastrpc-cdsp"}))
	assert.Equal(t, "chardev", b.Implementation)
	assert.Equal(t, "/dev/fastrpc-cdsp", b.Address)
	assert.Equal(t, "chardev:/dev/fastrpc-cdsp", b.String())
}

func TestSetRejectsUnknown(t *testing.T) {
	b := Backend{Implementation: "memory"}
	assert.Error(t, b.Set("postgres:db"))
	assert.Error(t, b.Set(""))
	assert.Equal(t, "memory", b.String())
}

func TestOpener(t *testing.T) {
	b := Backend{Implementation: "memory"}
	o, err := b.Opener(nil, props.Tuning{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, o)

	b = Backend{Implementation: "chardev"}
	o, err = b.Opener(nil, props.Tuning{HeapFlags: 1})
	require.NoError(t, err)
	if assert.IsType(t, &chardev.Opener{}, o) {
		assert.Equal(t, uint32(1), o.(*chardev.Opener).HeapFlags)
	}

	b = Backend{Implementation: "bogus"}
	_, err = b.Opener(nil, props.Tuning{})
	assert.Error(t, err)
}
