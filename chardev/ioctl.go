// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package chardev

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocTypeShift = iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | typ<<iocTypeShift | nr
}

// iowr is _IOWR(typ, nr, size).
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

// io is _IO(typ, nr).
func io(typ, nr uintptr) uintptr { return ioc(iocNone, typ, nr, 0) }

// Device requests.
var (
	ioctlAllocDMA     = iowr('R', 1, sizeAllocDMA)
	ioctlFreeDMA      = iowr('R', 2, 4)
	ioctlInvoke       = iowr('R', 3, sizeInvoke)
	ioctlInitAttach   = io('R', 4)
	ioctlInitCreate   = iowr('R', 5, sizeCreate)
	ioctlMmap         = iowr('R', 6, sizeMmap)
	ioctlMunmap       = iowr('R', 7, sizeMunmap)
	ioctlAttachSNS    = io('R', 8)
	ioctlCreateStatic = iowr('R', 9, sizeCreateStatic)
	ioctlSetMode      = iowr('R', 10, 4)
	ioctlControl      = iowr('R', 12, sizeControl)
)

// ioctlFunc issues one request on fd.  arg is the request's record, or
// nil for requests without one.
type ioctlFunc func(fd int, req uintptr, arg []byte) error

func sysIoctl(fd int, req uintptr, arg []byte) error {
	var p unsafe.Pointer
	if len(arg) > 0 {
		p = unsafe.Pointer(&arg[0])
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(p))
	if errno != 0 {
		return errno
	}
	return nil
}
