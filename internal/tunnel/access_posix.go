//go:build linux || darwin

package tunnel

import "golang.org/x/sys/unix"

// accessWritable asks the kernel whether the effective credentials may
// create entries in dir. This covers root, group membership and
// capabilities such as CAP_DAC_OVERRIDE alike.
func accessWritable(dir string) bool {
	return unix.Faccessat(unix.AT_FDCWD, dir, unix.W_OK|unix.X_OK, unix.AT_EACCESS) == nil
}
