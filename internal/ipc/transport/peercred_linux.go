//go:build linux

package transport

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// peerUID reads SO_PEERCRED from the connected socket.
func peerUID(conn net.Conn) (uint32, bool, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, false, nil
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, false, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, false, err
	}
	if credErr != nil {
		return 0, false, credErr
	}
	if cred == nil {
		return 0, false, errors.New("no peer credentials")
	}
	return cred.Uid, true, nil
}
