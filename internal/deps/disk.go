package deps

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeDiskSpace reports the bytes available to the daemon user on the
// filesystem holding path.
func FreeDiskSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %q: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckStagingSpace verifies the staging filesystem can hold at least
// required bytes of scratch data.
func CheckStagingSpace(path string, required uint64) Status {
	status := Status{
		Name:        "Staging space",
		Command:     path,
		Description: "Scratch space for job workspaces",
	}
	free, err := FreeDiskSpace(path)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	if free < required {
		status.Detail = fmt.Sprintf("only %d bytes free, need %d", free, required)
		return status
	}
	status.Available = true
	return status
}
