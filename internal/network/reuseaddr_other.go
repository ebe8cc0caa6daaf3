//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain net.ListenConfig on platforms
// where the SO_REUSEADDR shim is not implemented.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
