//go:build !unix

package xcpudp

import "syscall"

func controlSocket(int) func(network, address string, c syscall.RawConn) error {
	return nil
}

func isWouldBlock(error) bool {
	return false
}
