// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (rec *recorder) component(name string, deps ...string) Component {
	return Component{
		Name: name,
		Deps: deps,
		Init: func() error {
			rec.events = append(rec.events, "+"+name)
			return nil
		},
		Deinit: func() {
			rec.events = append(rec.events, "-"+name)
		},
	}
}

func TestDependencyOrder(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry()
	require.NoError(t, r.Define(rec.component("pls")))
	require.NoError(t, r.Define(rec.component("modtable", "pls")))
	require.NoError(t, r.Define(rec.component("domains", "modtable", "pls")))
	require.NoError(t, r.Define(rec.component("listener", "domains")))

	require.NoError(t, r.Init("listener"))
	require.NoError(t, r.Init("listener"))
	require.NoError(t, r.Init("modtable"))
	assert.Equal(t, []string{"+pls", "+modtable", "+domains", "+listener"}, rec.events)
	assert.True(t, r.Initialized("domains"))

	rec.events = nil
	r.Deinit()
	assert.Equal(t, []string{"-listener", "-domains", "-modtable", "-pls"}, rec.events)
	assert.False(t, r.Initialized("domains"))

	rec.events = nil
	require.NoError(t, r.Init("pls"))
	assert.Equal(t, []string{"+pls"}, rec.events)
}

func TestInitErrorCached(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	r := NewRegistry()
	require.NoError(t, r.Define(Component{Name: "bad", Init: func() error {
		calls++
		return boom
	}}))
	require.NoError(t, r.Define(Component{Name: "user", Deps: []string{"bad"}}))

	assert.Equal(t, boom, r.Init("bad"))
	assert.True(t, errors.Is(r.Init("user"), boom))
	assert.Equal(t, 1, calls)
	assert.False(t, r.Initialized("user"))
}

func TestDefineErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define(Component{Name: "a", Deps: []string{"b"}}))
	assert.Error(t, r.Define(Component{Name: "a"}))
	assert.Error(t, r.Init("a"))
	assert.Error(t, r.Init("nope"))

	require.NoError(t, r.Define(Component{Name: "b", Deps: []string{"a"}}))
	assert.Error(t, r.Init("a"))
}
