package domain

import "time"

// PeerID is the raw numeric identifier of a remote identity.
type PeerID int64

type PeerKind string

const (
	PeerKindUser    PeerKind = "user"
	PeerKindGroup   PeerKind = "group"
	PeerKindChannel PeerKind = "channel"
)

// PeerDescriptor is a resolved, routable reference to a remote identity.
// Resolution is a remote call; descriptors are cached because the routing
// information can go stale if the platform migrates the identity.
type PeerDescriptor struct {
	ID         PeerID   `json:"id"`
	AccessHash int64    `json:"access_hash"`
	Kind       PeerKind `json:"kind"`
	Username   string   `json:"username"`
	Title      string   `json:"title"`
	// Zone is the datacenter the platform reports as hosting this peer.
	// Advisory only; 0 means unknown.
	Zone int `json:"zone"`
}

// WorkerDescriptor describes one gateway connection available to the
// fetch engine. RoutingZone is advisory metadata used for ordering, not
// a correctness constraint.
type WorkerDescriptor struct {
	Index        int
	Name         string
	RoutingZone  int
	LastWarmupOK bool
	WarmedAt     time.Time
}
