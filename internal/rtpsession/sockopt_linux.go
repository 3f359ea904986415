//go:build linux

package rtpsession

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// voiceDSCP is Expedited Forwarding (EF, DSCP 46), the conventional
// marking for interactive voice RTP traffic.
const voiceDSCP = 46

// tuneSocket marks the RTP socket's outbound packets with the voice DSCP
// class on Linux. Best-effort: failures (e.g. inside an unprivileged
// container) are ignored rather than surfaced as a media error.
func tuneSocket(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		tos := voiceDSCP << 2
		_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tos)
		_ = syscall.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, 6)
	})
}
