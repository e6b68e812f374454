//go:build linux

package logger

import (
	"syscall"
	"unsafe"
)

// isTerminal reports whether fd refers to a terminal by probing its
// termios attributes with TCGETS.
func isTerminal(fd uintptr) bool {
	var t syscall.Termios
	_, _, errno := syscall.Syscall6(
		syscall.SYS_IOCTL, fd, syscall.TCGETS,
		uintptr(unsafe.Pointer(&t)), 0, 0, 0,
	)
	return errno == 0
}
