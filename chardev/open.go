// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package chardev

import (
	"errors"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Device nodes.
const (
	DefaultNode = "/dev/fastrpc-adsp"
	SecureNode  = "/dev/fastrpc-adsp-secure"
	CDSPNode    = "/dev/fastrpc-cdsp"
	SDSPNode    = "/dev/fastrpc-sdsp"
	MDSPNode    = "/dev/fastrpc-mdsp"
)

// Opener opens device nodes.  It implements domain.Opener.
type Opener struct {
	// OpenFile opens a node and returns its descriptor.  If nil,
	// the node is opened read-write with close-on-exec.
	OpenFile func(path string) (int, error)

	// Logger receives diagnostics; the standard logger is used if
	// it is nil.
	Logger *logrus.Logger

	// HeapFlags is sent with every shared buffer allocation.
	HeapFlags uint32

	ioctl ioctlFunc
}

func openFile(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func domainNode(id remote.DomainID) string {
	switch id.Base() {
	case remote.SDSP:
		return SDSPNode
	case remote.MDSP:
		return MDSPNode
	case remote.CDSP:
		return CDSPNode
	}
	return DefaultNode
}

// open tries the nodes for a domain in order, moving on according to
// how the previous node failed.
func (o *Opener) open(id remote.DomainID) (int, string, error) {
	openf := o.OpenFile
	if openf == nil {
		openf = openFile
	}
	try := func(path string) (int, string, error) {
		fd, err := openf(path)
		return fd, path, err
	}

	if id.Base() == remote.CDSP {
		fd, path, err := try(CDSPNode)
		if errors.Is(err, unix.ENOENT) {
			return try(SecureNode)
		}
		return fd, path, err
	}

	fd, path, err := try(SecureNode)
	switch {
	case errors.Is(err, unix.ENOENT):
		if node := domainNode(id); node != DefaultNode {
			if fd, path, err = try(node); err == nil {
				return fd, path, nil
			}
		}
		return try(DefaultNode)
	case errors.Is(err, unix.EACCES):
		return try(DefaultNode)
	}
	return fd, path, err
}

// Open implements domain.Opener.
func (o *Opener) Open(id remote.DomainID) (domain.Device, error) {
	if !id.Valid() {
		return nil, remote.ErrInvalidDomain
	}
	log := o.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	fd, path, err := o.open(id)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"domain": id.String(),
			"node":   path,
		}).Error("opening device")
		return nil, remote.ErrInvalidDevice
	}
	ioctl := o.ioctl
	if ioctl == nil {
		ioctl = sysIoctl
	}
	d := &Device{
		id:        id,
		fd:        fd,
		ioctl:     ioctl,
		heapFlags: o.HeapFlags,
		mapped:    make(map[int32][]byte),
	}
	d.log = log.WithFields(logrus.Fields{
		"domain": id.String(),
		"node":   path,
	})
	d.log.Debug("device open")
	return d, nil
}
