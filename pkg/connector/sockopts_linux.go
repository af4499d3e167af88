//go:build linux

package connector

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// bindToDeviceControl returns a net.Dialer.Control hook that binds the
// dialed socket to a network interface via SO_BINDTODEVICE, the same
// syscall.RawConn.Control pattern this module's socket-option code is
// grounded on.
func bindToDeviceControl(iface string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		if err := c.Control(func(descriptor uintptr) {
			sockErr = unix.SetsockoptString(int(descriptor), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface)
		}); err != nil {
			return err
		}
		return sockErr
	}
}
