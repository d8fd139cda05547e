//go:build !windows
// +build !windows

package transport

import "net"

// ListenConfig returns a net.ListenConfig for non-Windows platforms.
func ListenConfig() *net.ListenConfig {
	return &net.ListenConfig{}
}
