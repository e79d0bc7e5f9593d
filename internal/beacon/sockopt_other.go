//go:build !unix

package beacon

import "syscall"

// enableBroadcast is a no-op; pings to a broadcast address may be refused.
func enableBroadcast(_, _ string, _ syscall.RawConn) error {
	return nil
}
