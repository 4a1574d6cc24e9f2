// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package helper

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerChecker gates connections before any bytes are read. Passing the
// check is necessary but never sufficient: every execute and cancel
// request still needs a valid authorization proof.
type PeerChecker interface {
	Check(conn net.Conn) error
}

// UIDPeerChecker admits root and one configured uid, read from the
// socket's kernel-verified peer credentials.
type UIDPeerChecker struct {
	AllowedUID uint32
}

func (c UIDPeerChecker) Check(conn net.Conn) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return errors.New("peer credentials unavailable: not a unix connection")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("accessing raw connection: %w", err)
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return fmt.Errorf("reading peer credentials: %w", err)
	}
	if credErr != nil {
		return fmt.Errorf("reading peer credentials: %w", credErr)
	}

	if cred.Uid == 0 || cred.Uid == c.AllowedUID {
		return nil
	}
	return fmt.Errorf("peer uid %d not permitted", cred.Uid)
}
