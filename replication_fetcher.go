package xordrive

import (
	"slices"
	"time"

	"github.com/edgedlt/xordrive/clock"
	"go.uber.org/zap"
)

// FetcherConfig configures the ReplicationFetcher.
type FetcherConfig struct {
	// MaxParallelFetch limits how many fetches may be in flight at once.
	// Bounded by the Kademlia bucket size K.
	MaxParallelFetch int

	// PendingTimeout is how long an advertised key stays queued before the
	// advertisement is considered stale and dropped.
	PendingTimeout time.Duration

	// FetchTimeout is how long an in-flight fetch may run before its holder
	// is considered failed.
	FetchTimeout time.Duration
}

// DefaultFetcherConfig returns the production defaults for the fetcher.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxParallelFetch: 20,
		PendingTimeout:   900 * time.Second,
		FetchTimeout:     20 * time.Second,
	}
}

// pendingKey identifies one holder's advertisement of one record.
type pendingKey struct {
	id     RecordID
	holder PeerID
}

// onGoingFetch tracks a promoted fetch and its deadline.
type onGoingFetch struct {
	holder   PeerID
	started  time.Time
	deadline time.Time
}

// ReplicationFetcher decides which advertised records to fetch next, keeping
// a node's local record set consistent with its neighborhood under churn.
// It bounds fetch concurrency, prioritizes the data this node is closest to,
// and reports unresponsive holders through the event channel.
//
// The fetcher never performs network I/O itself; it only produces fetch
// targets and consumes completion notices. It is not safe for concurrent
// use: a single owner (the network driver task) must serialize all calls.
// Deadlines are absolute and checked lazily on the next relevant operation,
// so no background timer task is needed.
type ReplicationFetcher struct {
	cfg  FetcherConfig
	self NetworkAddress

	// (key, type, holder) -> advertisement expiry.
	toBeFetched map[pendingKey]time.Time

	// (key, type) -> promoted fetch. At most one holder per record id is
	// ever in flight.
	onGoing map[RecordID]onGoingFetch

	// Optional ilog2 ceiling; keys bucketed farther than this from self are
	// out of replication range and never fetched.
	distanceRange *uint32

	events *EventChannel
	hooks  *Hooks
	clk    clock.Clock
	logger *zap.Logger
}

// NewReplicationFetcher creates a fetcher for the node at self.
func NewReplicationFetcher(cfg FetcherConfig, self NetworkAddress, events *EventChannel, logger *zap.Logger) *ReplicationFetcher {
	return NewReplicationFetcherWithHooks(cfg, self, events, nil, clock.NewReal(), logger)
}

// NewReplicationFetcherWithHooks creates a fetcher with observability hooks
// and an explicit time source.
func NewReplicationFetcherWithHooks(
	cfg FetcherConfig,
	self NetworkAddress,
	events *EventChannel,
	hooks *Hooks,
	clk clock.Clock,
	logger *zap.Logger,
) *ReplicationFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	if cfg.MaxParallelFetch <= 0 {
		cfg.MaxParallelFetch = 20
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 900 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}

	return &ReplicationFetcher{
		cfg:         cfg,
		self:        self,
		toBeFetched: make(map[pendingKey]time.Time),
		onGoing:     make(map[RecordID]onGoingFetch),
		events:      events,
		hooks:       hooks,
		clk:         clk,
		logger:      logger,
	}
}

// SetDistanceRange sets the ilog2 bucket ceiling for replication range.
// Advertised keys bucketed farther than this from self are dropped.
func (f *ReplicationFetcher) SetDistanceRange(ilog2 uint32) {
	f.distanceRange = &ilog2
	f.logger.Debug("replication distance range updated", zap.Uint32("ilog2", ilog2))
}

// AddKeys records a holder's advertisement of the given keys and returns
// the fetches the caller should now issue. locallyStored is a read-only
// snapshot of the node's record inventory; keys already held are dropped
// from all internal state. An empty result is a normal outcome (nothing
// ready, or at capacity).
func (f *ReplicationFetcher) AddKeys(holder PeerID, incoming []RecordEntry, locallyStored map[RecordID]struct{}) []FetchTarget {
	f.removeHeldKeys(locallyStored)

	var targets []FetchTarget

	// A single advertised key is most likely a freshly written record:
	// fetch it straight away to cut new-data propagation latency, rather
	// than letting it queue behind bulk replication.
	if len(incoming) == 1 {
		entry := incoming[0]
		id := entry.ID()
		_, held := locallyStored[id]
		_, inFlight := f.onGoing[id]
		if !held && !inFlight && len(f.onGoing) < f.cfg.MaxParallelFetch {
			f.promote(entry, holder)
			targets = append(targets, FetchTarget{Holder: holder, Addr: entry.Addr, Type: entry.Type})
			f.logger.Debug("fast-path fetch for fresh record",
				zap.Stringer("key", entry.Addr),
				zap.String("holder", string(holder)))
			incoming = nil
		}
	}

	f.pruneExpiredPending()

	incoming = f.dropOutOfRange(holder, incoming)

	now := f.clk.Now()
	for _, entry := range incoming {
		id := entry.ID()
		if _, held := locallyStored[id]; held {
			continue
		}
		pk := pendingKey{id: id, holder: holder}
		if _, exists := f.toBeFetched[pk]; !exists {
			f.toBeFetched[pk] = now.Add(f.cfg.PendingTimeout)
		}
	}

	return append(targets, f.NextKeysToFetch()...)
}

// NextKeysToFetch prunes stale advertisements and expired in-flight fetches,
// reports the failed holders, and promotes pending keys closest to self until
// the parallelism ceiling is reached.
func (f *ReplicationFetcher) NextKeysToFetch() []FetchTarget {
	f.pruneExpiredPending()
	f.pruneExpiredInFlight()

	if len(f.onGoing) >= f.cfg.MaxParallelFetch {
		return nil
	}

	type candidate struct {
		entry  RecordEntry
		holder PeerID
		dist   Distance
	}
	candidates := make([]candidate, 0, len(f.toBeFetched))
	for pk := range f.toBeFetched {
		candidates = append(candidates, candidate{
			entry:  RecordEntry{Addr: pk.id.Addr, Type: pk.id.Type},
			holder: pk.holder,
			dist:   f.self.DistanceTo(pk.id.Addr),
		})
	}

	// Closest data first: fetch priority follows the closeness contract,
	// since the nearest keys are the ones this node answers for.
	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := a.dist.Compare(b.dist); c != 0 {
			return c
		}
		if c := a.entry.Addr.Compare(b.entry.Addr); c != 0 {
			return c
		}
		if c := int(a.entry.Type) - int(b.entry.Type); c != 0 {
			return c
		}
		if a.holder < b.holder {
			return -1
		} else if a.holder > b.holder {
			return 1
		}
		return 0
	})

	var targets []FetchTarget
	for _, c := range candidates {
		if len(f.onGoing) >= f.cfg.MaxParallelFetch {
			break
		}
		id := c.entry.ID()
		if _, inFlight := f.onGoing[id]; inFlight {
			continue
		}
		f.promote(c.entry, c.holder)
		targets = append(targets, FetchTarget{Holder: c.holder, Addr: c.entry.Addr, Type: c.entry.Type})
	}
	return targets
}

// NotifyAboutNewPut clears all pending and in-flight state for a record the
// local store now holds, then returns the next batch of fetches the freed
// capacity allows. Calling it for a record that was never tracked is a
// no-op beyond the refill.
func (f *ReplicationFetcher) NotifyAboutNewPut(addr NetworkAddress, typ RecordType) []FetchTarget {
	id := RecordID{Addr: addr, Type: typ}
	for pk := range f.toBeFetched {
		if pk.id == id {
			delete(f.toBeFetched, pk)
		}
	}
	delete(f.onGoing, id)
	return f.NextKeysToFetch()
}

// InFlightCount returns the number of fetches currently in flight.
func (f *ReplicationFetcher) InFlightCount() int { return len(f.onGoing) }

// PendingCount returns the number of queued (key, holder) advertisements.
func (f *ReplicationFetcher) PendingCount() int { return len(f.toBeFetched) }

// promote moves an entry into the in-flight set.
func (f *ReplicationFetcher) promote(entry RecordEntry, holder PeerID) {
	id := entry.ID()
	now := f.clk.Now()
	f.onGoing[id] = onGoingFetch{
		holder:   holder,
		started:  now,
		deadline: now.Add(f.cfg.FetchTimeout),
	}
	for pk := range f.toBeFetched {
		if pk.id == id {
			delete(f.toBeFetched, pk)
		}
	}
	if f.hooks != nil && f.hooks.OnFetchPromoted != nil {
		f.hooks.OnFetchPromoted(FetchPromotedEvent{
			Target:     FetchTarget{Holder: holder, Addr: entry.Addr, Type: entry.Type},
			InFlight:   len(f.onGoing),
			PromotedAt: now,
		})
	}
}

// removeHeldKeys drops every tracked entry whose record the node now holds.
func (f *ReplicationFetcher) removeHeldKeys(locallyStored map[RecordID]struct{}) {
	if len(locallyStored) == 0 {
		return
	}
	for pk := range f.toBeFetched {
		if _, held := locallyStored[pk.id]; held {
			delete(f.toBeFetched, pk)
		}
	}
	for id := range f.onGoing {
		if _, held := locallyStored[id]; held {
			delete(f.onGoing, id)
		}
	}
}

// pruneExpiredPending drops advertisements whose pending deadline passed.
func (f *ReplicationFetcher) pruneExpiredPending() {
	now := f.clk.Now()
	for pk, deadline := range f.toBeFetched {
		if now.After(deadline) {
			f.logger.Debug("pending replication entry expired",
				zap.Stringer("key", pk.id.Addr),
				zap.String("holder", string(pk.holder)))
			delete(f.toBeFetched, pk)
		}
	}
}

// pruneExpiredInFlight drops timed-out fetches and reports their holders
// through a single FailedToFetchHolders event.
func (f *ReplicationFetcher) pruneExpiredInFlight() {
	now := f.clk.Now()
	var failed []PeerID
	seen := make(map[PeerID]struct{})
	for id, fetch := range f.onGoing {
		if !now.After(fetch.deadline) {
			continue
		}
		f.logger.Debug("in-flight fetch timed out",
			zap.Stringer("key", id.Addr),
			zap.String("holder", string(fetch.holder)))
		delete(f.onGoing, id)
		if _, dup := seen[fetch.holder]; !dup {
			seen[fetch.holder] = struct{}{}
			failed = append(failed, fetch.holder)
		}
		if f.hooks != nil && f.hooks.OnFetchTimedOut != nil {
			f.hooks.OnFetchTimedOut(FetchTimedOutEvent{
				Target:    FetchTarget{Holder: fetch.holder, Addr: id.Addr, Type: id.Type},
				StartedAt: fetch.started,
				PrunedAt:  now,
			})
		}
	}
	if len(failed) > 0 && f.events != nil {
		f.events.Send(FailedToFetchHoldersEvent{Holders: failed})
	}
}

// dropOutOfRange filters out keys bucketed beyond the replication range.
func (f *ReplicationFetcher) dropOutOfRange(holder PeerID, incoming []RecordEntry) []RecordEntry {
	if f.distanceRange == nil || len(incoming) == 0 {
		return incoming
	}
	// The caller still owns incoming; filter into a fresh slice.
	kept := make([]RecordEntry, 0, len(incoming))
	var dropped []RecordEntry
	for _, entry := range incoming {
		bucket, ok := f.self.DistanceTo(entry.Addr).Ilog2()
		if ok && bucket > *f.distanceRange {
			dropped = append(dropped, entry)
			continue
		}
		kept = append(kept, entry)
	}
	if len(dropped) > 0 {
		f.logger.Debug("advertised keys out of replication range",
			zap.String("holder", string(holder)),
			zap.Int("dropped", len(dropped)),
			zap.Uint32("range", *f.distanceRange))
		if f.hooks != nil && f.hooks.OnKeysOutOfRange != nil {
			f.hooks.OnKeysOutOfRange(KeysOutOfRangeEvent{Holder: holder, Keys: dropped})
		}
	}
	return kept
}
