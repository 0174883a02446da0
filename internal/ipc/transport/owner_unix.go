//go:build unix

package transport

import (
	"fmt"
	"os"
	"syscall"
)

// socketOwner returns the uid owning the socket file at path.
func socketOwner(path string) (uint32, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("cannot determine owner of %s", path)
	}
	return st.Uid, nil
}
