//go:build unix

package xcpudp

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func controlSocket(sendBufferSize int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if sockErr != nil {
				sockErr = errors.Wrap(sockErr, "set SO_REUSEADDR")
				return
			}
			if sendBufferSize > 0 {
				sockErr = errors.Wrapf(unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufferSize),
					"set SO_SNDBUF to %d", sendBufferSize)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
