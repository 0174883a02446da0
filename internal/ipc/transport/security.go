package transport

import (
	"fmt"
	"net"
	"os"
	"slices"
)

// Access selects which local users may connect to a server.
type Access int

const (
	// AccessCurrentUser admits only the user running the server.
	AccessCurrentUser Access = iota
	// AccessAnyUser admits every local user.
	AccessAnyUser
	// AccessList admits the users named in ServerSecurity.AllowedUIDs.
	AccessList
)

func (a Access) String() string {
	switch a {
	case AccessCurrentUser:
		return "current-user"
	case AccessAnyUser:
		return "any"
	case AccessList:
		return "list"
	}
	return fmt.Sprintf("Access(%d)", int(a))
}

// ParseAccess maps a configuration value to an Access.
func ParseAccess(s string) (Access, error) {
	for _, a := range []Access{AccessCurrentUser, AccessAnyUser, AccessList} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown access mode %q", s)
}

// ServerSecurity controls the socket file mode and which peers are accepted.
// A nil *ServerSecurity keeps the socket private to the owner and accepts
// every peer that can open it.
type ServerSecurity struct {
	Access      Access
	AllowedUIDs []uint32
}

func (s *ServerSecurity) socketMode() os.FileMode {
	if s == nil || s.Access == AccessCurrentUser {
		return 0o600
	}
	return 0o666
}

// authorize checks the peer's credentials. Where the platform cannot report
// them, current-user servers rely on the socket file mode and list servers
// fail closed.
func (s *ServerSecurity) authorize(conn net.Conn) error {
	if s == nil || s.Access == AccessAnyUser {
		return nil
	}
	uid, ok, err := peerUID(conn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecurityRejected, err)
	}
	switch s.Access {
	case AccessCurrentUser:
		if ok && int(uid) != os.Getuid() {
			return fmt.Errorf("%w: peer uid %d is not the server owner", ErrSecurityRejected, uid)
		}
	case AccessList:
		if !ok {
			return fmt.Errorf("%w: peer credentials unavailable", ErrSecurityRejected)
		}
		if !slices.Contains(s.AllowedUIDs, uid) {
			return fmt.Errorf("%w: peer uid %d is not allowed", ErrSecurityRejected, uid)
		}
	}
	return nil
}

// ClientSecurity holds checks a client makes on the server it reached.
type ClientSecurity struct {
	// CurrentUserOnly rejects servers not run by the current user.
	CurrentUserOnly bool
}

func (c *ClientSecurity) verify(conn net.Conn, path string) error {
	if c == nil || !c.CurrentUserOnly {
		return nil
	}
	uid, ok, err := peerUID(conn)
	if err == nil && !ok {
		uid, err = socketOwner(path)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSecurityRejected, err)
	}
	if int(uid) != os.Getuid() {
		return fmt.Errorf("%w: could not connect to the server because it was not owned by the current user", ErrSecurityRejected)
	}
	return nil
}
