//go:build darwin

package pathentry

import "golang.org/x/sys/unix"

// mkfifo creates a named pipe. Darwin-specific syscall wrapper.
func mkfifo(path string, mode uint32) error {
	return unix.Mkfifo(path, mode)
}
