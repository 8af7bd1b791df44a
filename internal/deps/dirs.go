package deps

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DirResult reports the outcome of a directory access check.
type DirResult struct {
	Name   string
	Passed bool
	Detail string
}

// CheckDirectoryAccess verifies that path exists, is a directory, and is
// readable and writable by the current process.
func CheckDirectoryAccess(name, path string) DirResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DirResult{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return DirResult{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return DirResult{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return DirResult{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return DirResult{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}
