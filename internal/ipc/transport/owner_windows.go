//go:build windows

package transport

import "errors"

func socketOwner(string) (uint32, error) {
	return 0, errors.New("socket ownership checks are not supported on windows")
}
