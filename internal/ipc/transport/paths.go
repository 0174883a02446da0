package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const socketSuffix = ".sock"

// SocketPath maps a server name to its socket path and ensures the parent
// directory exists with private permissions. Absolute names are used as is;
// bare names live under dir, or under the default runtime directory when dir
// is empty.
func SocketPath(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty server name")
	}
	var p string
	if filepath.IsAbs(name) {
		p = name
	} else {
		if strings.ContainsRune(name, os.PathSeparator) || name == "." || name == ".." {
			return "", fmt.Errorf("invalid server name %q", name)
		}
		if dir == "" {
			var err error
			if dir, err = DefaultRuntimeDir(); err != nil {
				return "", err
			}
		}
		if !strings.HasSuffix(name, socketSuffix) {
			name += socketSuffix
		}
		p = filepath.Join(dir, name)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return "", err
	}
	return p, nil
}

// DefaultRuntimeDir prefers $XDG_RUNTIME_DIR and falls back to the user's
// local share directory.
func DefaultRuntimeDir() (string, error) {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "localrmi"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "localrmi"), nil
}
