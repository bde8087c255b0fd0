//go:build linux

package catalog

import (
	"golang.org/x/sys/unix"
)

// deviceNumber returns the dev_t of the block device node at path.
func deviceNumber(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return 0, errNotBlockDevice
	}
	return uint64(st.Rdev), nil
}
