//go:build !linux && !darwin
// +build !linux,!darwin

package worker

import "errors"

func mkfifo(path string) error {
	return errors.New("worker: named FIFOs are not supported on this platform")
}
