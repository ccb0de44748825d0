//go:build linux || darwin
// +build linux darwin

package worker

import "syscall"

func mkfifo(path string) error {
	return syscall.Mkfifo(path, 0600)
}
