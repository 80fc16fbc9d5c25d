//go:build !linux && !darwin

package transport

import "syscall"

// setDSCP на остальных платформах не поддерживается
func setDSCP(conn syscall.Conn, dscp int) error {
	return nil
}
