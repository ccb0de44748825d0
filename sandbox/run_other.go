//go:build !linux
// +build !linux

package sandbox

import "errors"

// Run is unimplemented outside Linux: the bubblewrap + cgroupv2 isolation
// this package relies on has no portable equivalent, matching
// tenant.CanSandbox's own Linux-only scope.
func Run(cfg Config) (Result, error) {
	return Result{}, errors.New("sandbox: not supported on this platform")
}
