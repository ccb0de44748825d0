package proto

import "github.com/google/uuid"

// WorkerId identifies one connected worker for the lifetime of its
// connection (spec.md §4.D, §4.G "running[worker_id]").
type WorkerId string

// NewWorkerId returns a fresh, random WorkerId.
func NewWorkerId() WorkerId { return WorkerId(uuid.NewString()) }

// ClientId identifies one connected client for the lifetime of its
// connection (spec.md §4.G "subscribers").
type ClientId string

// NewClientId returns a fresh, random ClientId.
func NewClientId() ClientId { return ClientId(uuid.NewString()) }
