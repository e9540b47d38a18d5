// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package remotectl

import (
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
)

// Method shapes of the current process interface.
var (
	ExitSC       = remote.MustScalars(0, 0, 0, 0, 0)
	ThreadExitSC = remote.MustScalars(1, 0, 0, 0, 0)
)

// Process receives process lifecycle notifications.
type Process interface {
	// Exit tells the far side the process is going away.
	Exit() error

	// ThreadExit tells the far side one calling thread is done.
	ThreadExit() error
}

// ProcessClient sends lifecycle notifications through an invoker.
type ProcessClient struct {
	Invoker remote.Invoker
}

// Exit sends the process exit notification.
func (c ProcessClient) Exit() error {
	return c.Invoker.Invoke(remote.CurrentProcessHandle, ExitSC, nil)
}

// ThreadExit sends the thread exit notification.
func (c ProcessClient) ThreadExit() error {
	return c.Invoker.Invoke(remote.CurrentProcessHandle, ThreadExitSC, nil)
}

// ProcessSkel serves the current process interface from p.
func ProcessSkel(p Process) modtable.Stateless {
	return func(sc remote.Scalars, args []remote.Arg) error {
		switch sc {
		case ExitSC:
			return p.Exit()
		case ThreadExitSC:
			return p.ThreadExit()
		}
		return remote.ErrUnsupported
	}
}
