package sandbox

import "syscall"

func signalName(sig int32) string {
	return syscall.Signal(sig).String()
}
