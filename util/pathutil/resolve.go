// Package pathutil resolves user-supplied paths from launch configurations.
package pathutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandTilde expands a leading tilde:
// - ~ expands to the current user's home directory
// - ~username expands to username's home directory
// The original path is returned when expansion fails or the path doesn't
// start with ~.
func ExpandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}

	var username, rest string
	if idx := strings.Index(path, "/"); idx > 1 {
		username = path[1:idx]
		rest = path[idx+1:]
	} else {
		username = path[1:]
	}

	u, err := user.Lookup(username)
	if err != nil {
		return path
	}
	if rest == "" {
		return u.HomeDir
	}
	return filepath.Join(u.HomeDir, rest)
}
