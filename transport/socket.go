//go:build windows
// +build windows

package transport

import (
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

// ListenConfig returns a net.ListenConfig with SO_REUSEADDR enabled.
func ListenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				// Windows: 客户端频繁重连时，允许立即复用刚释放的临时端口
				sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
