//go:build !linux

package rtpsession

import "net"

// tuneSocket is a no-op outside Linux; DSCP marking is a best-effort
// optimization, not a correctness requirement.
func tuneSocket(conn *net.UDPConn) {}
