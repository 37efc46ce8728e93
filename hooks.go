package xordrive

import "time"

// Hooks provides optional callbacks for observability events.
// All hooks are invoked synchronously - keep implementations fast.
type Hooks struct {
	// Replication fetcher events

	// OnFetchPromoted is called when a pending key is promoted to an
	// in-flight fetch.
	OnFetchPromoted func(FetchPromotedEvent)

	// OnFetchTimedOut is called when an in-flight fetch exceeds its
	// deadline and is pruned.
	OnFetchTimedOut func(FetchTimedOutEvent)

	// OnKeysOutOfRange is called when advertised keys are dropped for
	// being outside the node's replication distance range.
	OnKeysOutOfRange func(KeysOutOfRangeEvent)

	// Get-record events

	// OnRecordResolved is called when a query reaches quorum on a single
	// record version.
	OnRecordResolved func(RecordResolvedEvent)

	// OnSplitRecordDetected is called when a query observes divergent
	// content for the same key.
	OnSplitRecordDetected func(SplitRecordDetectedEvent)

	// Spend DAG events

	// OnDoubleSpendDetected is called when a second, distinct spend is
	// recorded at an already-spent address.
	OnDoubleSpendDetected func(DoubleSpendDetectedEvent)

	// OnDagVerified is called after a full DAG audit completes.
	OnDagVerified func(DagVerifiedEvent)
}

// Clone returns a shallow copy of the hooks.
func (h *Hooks) Clone() *Hooks {
	if h == nil {
		return nil
	}
	clone := *h
	return &clone
}

// FetchPromotedEvent contains information about a newly in-flight fetch.
type FetchPromotedEvent struct {
	Target     FetchTarget
	InFlight   int
	PromotedAt time.Time
}

// FetchTimedOutEvent contains information about an expired in-flight fetch.
type FetchTimedOutEvent struct {
	Target    FetchTarget
	StartedAt time.Time
	PrunedAt  time.Time
}

// KeysOutOfRangeEvent contains keys dropped by the distance-range filter.
type KeysOutOfRangeEvent struct {
	Holder PeerID
	Keys   []RecordEntry
}

// RecordResolvedEvent contains information about a resolved get-record query.
type RecordResolvedEvent struct {
	QueryID    QueryID
	Key        NetworkAddress
	Responders int
	ResolvedAt time.Time
}

// SplitRecordDetectedEvent contains information about a divergent record.
type SplitRecordDetectedEvent struct {
	QueryID    QueryID
	Key        NetworkAddress
	Versions   int
	DetectedAt time.Time
}

// DoubleSpendDetectedEvent contains both conflicting spends as evidence.
type DoubleSpendDetectedEvent struct {
	Addr       SpendAddress
	Spends     []*SignedSpend
	DetectedAt time.Time
}

// DagVerifiedEvent contains the outcome of a DAG audit.
type DagVerifiedEvent struct {
	Source     SpendAddress
	SpendCount int
	ErrorCount int
	VerifiedAt time.Time
}
