package xordrive

import "context"

// NetworkClient delivers requests to remote peers. The core is transport
// agnostic; implementations wrap whatever wire protocol the node runs.
type NetworkClient interface {
	// FetchRecord retrieves one record from a specific holder. Used by
	// replication: the key was advertised by that holder, so no quorum is
	// involved.
	FetchRecord(ctx context.Context, holder PeerID, addr NetworkAddress, typ RecordType) (Record, error)

	// SendReplicationNotice advertises locally stored keys to a neighbour.
	SendReplicationNotice(ctx context.Context, to PeerID, entries []RecordEntry) error

	// ClosestPeers returns the peers the routing table holds closest to an
	// address, nearest first.
	ClosestPeers(addr NetworkAddress, count int) []PeerID
}

// RoutingObserver is notified when the node's place in the keyspace moves,
// so the caller can recompute the fetcher's distance range.
type RoutingObserver interface {
	OnCloseGroupChanged(farthest NetworkAddress)
}
