// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package domain

import (
	"sync/atomic"

	"github.com/diffeo/go-fastrpc/remote"
)

// Stats is a snapshot of one domain.
type Stats struct {
	Domain   remote.DomainID
	State    string
	Mode     AttachMode
	Handles  int
	Invokes  uint64
	Opens    uint64
	PMQoS    bool
	Adaptive bool
}

// Stats returns a snapshot of every domain.
func (m *Manager) Stats() []Stats {
	out := make([]Stats, 0, len(m.domains))
	for _, d := range m.domains {
		d.lock.Lock()
		st := Stats{
			Domain:  d.id,
			State:   d.state.String(),
			Mode:    d.mode,
			Handles: len(d.handles),
		}
		d.lock.Unlock()
		st.Invokes = atomic.LoadUint64(&d.invokes)
		st.Opens = atomic.LoadUint64(&d.opens)
		st.PMQoS = d.PMActive()
		st.Adaptive = d.AdaptiveQoS()
		out = append(out, st)
	}
	return out
}
