//go:build !linux

package connector

import "syscall"

// bindToDeviceControl is a no-op outside Linux: SO_BINDTODEVICE has no
// portable equivalent, so Interface is silently ignored on other platforms.
func bindToDeviceControl(iface string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error { return nil }
}
