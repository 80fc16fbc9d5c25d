//go:build linux || darwin

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setDSCP устанавливает DSCP маркировку (старшие 6 бит TOS) для IPv4 и IPv6
func setDSCP(conn syscall.Conn, dscp int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	tos := dscp << 2
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
		// для IPv6 сокета IP_TOS может быть отвергнут
		if err6 := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos); err6 == nil {
			serr = nil
		}
	})
	if err != nil {
		return err
	}
	return serr
}
