//go:build linux

package pathentry

import "golang.org/x/sys/unix"

// mkfifo creates a named pipe. Linux-specific syscall wrapper, mirroring the
// teacher's pattern of platform-suffixed files for syscalls that differ
// across the supported OSes (safety_linux.go / safety_darwin.go).
func mkfifo(path string, mode uint32) error {
	return unix.Mkfifo(path, mode)
}
