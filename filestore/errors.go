package filestore

import "errors"

// ErrNotFound is returned by Get when a key is not present in the store,
// including the case where a previous holder raced an eviction.
var ErrNotFound = errors.New("filestore: key not found")

// ErrCorruptIndex is returned by Load when the on-disk index file fails
// its magic/version check or cannot be deserialized. Per spec.md §7, a
// corrupt index is not a fatal error for the caller: the store starts
// empty and re-derives its state by re-hashing whatever is already on
// disk (see Store.Reconcile).
var ErrCorruptIndex = errors.New("filestore: corrupt index")

// ErrDiskFull is returned by Store when writing the content to a temp
// file fails due to resource exhaustion.
var ErrDiskFull = errors.New("filestore: disk full")

// ErrRehashMismatch describes a file whose on-disk bytes no longer hash
// to the key under which it is stored (§7 "store/cache corruption").
// No function in this package returns it: Reconcile drops such entries
// from the index instead of reporting them.
var ErrRehashMismatch = errors.New("filestore: stored content disagrees with its key")
