package xordrive

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Node wires the core subsystems together: the record store, the
// replication fetcher, the get-record accumulator and the spend book. The
// fetcher and accumulator are single-owner by contract; Node is that owner
// and serializes access to them behind one mutex, so Node itself is safe
// for concurrent use.
type Node struct {
	cfg       *Config
	self      NetworkAddress
	store     *RecordStore
	book      *SpendBook
	events    *EventChannel
	validator *Validator
	limiter   *PerPeerRateLimiter
	breakers  *HolderBreakers
	tracker   *FetchTracker
	logger    *zap.Logger

	mu          sync.Mutex
	fetcher     *ReplicationFetcher
	accumulator *GetRecordAccumulator
	nextQueryID atomic.Uint64

	started          time.Time
	receivedPayments atomic.Uint64

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewNode builds a node from a validated Config, opening its record store
// and reloading any spend DAG snapshot found at the configured path.
func NewNode(cfg *Config) (*Node, error) {
	store, err := OpenRecordStore(cfg.StorePath, cfg.RecordCacheCapacity, cfg.Logger)
	if err != nil {
		return nil, err
	}

	hooks := NewRecoveryMiddleware(cfg.Hooks, cfg.Logger)

	var book *SpendBook
	if cfg.DagPath != "" {
		if dag, err := LoadDagFromFile(cfg.DagPath, cfg.Logger); err == nil {
			dag.SetHooks(hooks)
			book = NewSpendBookFromDag(dag)
		} else if !errors.Is(err, os.ErrNotExist) {
			store.Close()
			return nil, err
		}
	}
	if book == nil {
		book = NewSpendBookWithHooks(hooks, cfg.Logger)
	}

	events := NewEventChannel(cfg.EventChannelCapacity, cfg.Logger)
	self := AddrFromPeer(cfg.Self)
	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:       cfg,
		self:      self,
		store:     store,
		book:      book,
		events:    events,
		validator: NewValidator(DefaultValidationConfig()),
		// One notice per second per neighbour with room for a burst after
		// reconnects covers honest replication traffic.
		limiter:     NewPerPeerRateLimiter(1, 10),
		breakers:    NewHolderBreakers(DefaultCircuitBreakerConfig()),
		tracker:     NewFetchTracker(DefaultFetchTrackerConfig(), cfg.Logger),
		logger:      cfg.Logger,
		started:     cfg.Clock.Now(),
		baseCtx:     ctx,
		cancel:      cancel,
		fetcher:     NewReplicationFetcherWithHooks(cfg.FetcherConfigFrom(), self, events, hooks, cfg.Clock, cfg.Logger),
		accumulator: NewGetRecordAccumulatorWithHooks(hooks, cfg.Logger),
	}
	return n, nil
}

// Events returns the channel of advisory network events, such as holders
// that repeatedly failed to serve fetches.
func (n *Node) Events() <-chan NetworkEvent { return n.events.Receive() }

// HandleReplicationNotice ingests a neighbour's advertisement of the keys
// it holds and issues the fetches the fetcher promotes. Malformed or
// rate-limited notices are dropped whole.
func (n *Node) HandleReplicationNotice(holder PeerID, entries []RecordEntry) {
	if err := n.validator.ValidateReplicationNotice(holder, entries); err != nil {
		n.logger.Warn("dropping invalid replication notice",
			zap.String("holder", string(holder)),
			zap.Error(err))
		return
	}
	if !n.limiter.Allow(holder) {
		n.logger.Debug("replication notice rate limited",
			zap.String("holder", string(holder)))
		return
	}

	n.mu.Lock()
	targets := n.fetcher.AddKeys(holder, entries, n.store.StoredKeys())
	n.mu.Unlock()
	n.dispatchFetches(targets)
}

// dispatchFetches issues one network fetch per target. Failures are left
// to the fetcher's deadline pruning; a successful fetch stores the record
// and immediately refills the freed fetch slot.
func (n *Node) dispatchFetches(targets []FetchTarget) {
	for _, t := range targets {
		t := t
		breaker := n.breakers.For(t.Holder)
		if !breaker.Allow() {
			n.logger.Debug("holder circuit open, skipping fetch",
				zap.Stringer("key", t.Addr),
				zap.String("holder", string(t.Holder)))
			continue
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(n.baseCtx, n.cfg.FetchTimeout)
			defer cancel()
			ctx, complete := n.tracker.Track(ctx, t.Holder, t.Addr, t.Type)
			defer complete()

			rec, err := n.cfg.Network.FetchRecord(ctx, t.Holder, t.Addr, t.Type)
			if err != nil {
				breaker.RecordFailure()
				n.logger.Debug("replication fetch failed",
					zap.Stringer("key", t.Addr),
					zap.String("holder", string(t.Holder)),
					zap.Error(err))
				return
			}
			breaker.RecordSuccess()
			if err := n.validator.ValidateRecord(rec); err != nil {
				n.logger.Warn("fetched record failed validation",
					zap.Stringer("key", t.Addr),
					zap.String("holder", string(t.Holder)),
					zap.Error(err))
				return
			}
			if err := n.PutRecord(rec, t.Type); err != nil {
				n.logger.Warn("storing fetched record failed",
					zap.Stringer("key", t.Addr),
					zap.Error(err))
			}
		}()
	}
}

// PutRecord stores a record, clears any replication bookkeeping for it and
// issues the fetches the freed capacity allows.
func (n *Node) PutRecord(rec Record, typ RecordType) error {
	if err := n.store.Put(rec, typ); err != nil {
		return err
	}
	n.mu.Lock()
	targets := n.fetcher.NotifyAboutNewPut(rec.Key, typ)
	n.mu.Unlock()
	n.dispatchFetches(targets)
	return nil
}

// GetLocalRecord reads a record from the local store only.
func (n *Node) GetLocalRecord(addr NetworkAddress) (Record, error) {
	return n.store.Get(addr)
}

// GetRecord runs a quorum read against the close group of addr. It fans
// out to the closest known peers, feeds their answers through the
// accumulator and returns the terminal result. The context deadline maps
// to a query timeout.
func (n *Node) GetRecord(ctx context.Context, addr NetworkAddress, cfg GetRecordConfig) (Record, error) {
	if cfg.Quorum.IsZero() {
		cfg.Quorum = n.cfg.DefaultQuorum
	}
	id := QueryID(n.nextQueryID.Add(1))
	peers := n.cfg.Network.ClosestPeers(addr, CloseGroupSize)

	queryCtx, stop := context.WithCancel(ctx)
	defer stop()

	n.mu.Lock()
	resultCh := n.accumulator.Register(id, cfg, stop)
	n.mu.Unlock()

	if len(peers) == 0 {
		n.mu.Lock()
		n.accumulator.HandleError(id, QueryFailureNotFound)
		n.mu.Unlock()
		res := <-resultCh
		return res.Record, res.Err
	}

	var fanout sync.WaitGroup
	for _, peer := range peers {
		peer := peer
		fanout.Add(1)
		go func() {
			defer fanout.Done()
			rec, err := n.cfg.Network.FetchRecord(queryCtx, peer, addr, RecordTypeNonChunk)
			if err != nil {
				n.logger.Debug("get record answer failed",
					zap.Uint64("query", uint64(id)),
					zap.String("peer", string(peer)),
					zap.Error(err))
				return
			}
			n.mu.Lock()
			n.accumulator.AccumulateFound(id, PeerRecord{Peer: peer, Record: rec})
			n.mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		fanout.Wait()
		n.mu.Lock()
		n.accumulator.HandleFinished(id)
		n.mu.Unlock()
		close(done)
	}()

	select {
	case res := <-resultCh:
		return res.Record, res.Err
	case <-ctx.Done():
		n.mu.Lock()
		n.accumulator.HandleError(id, QueryFailureTimeout)
		n.mu.Unlock()
		res := <-resultCh
		return res.Record, res.Err
	}
}

// AddSpend validates a spend's signature, records it in the spend book and
// persists it as a record. A DoubleSpendError still persists the spend:
// conflicting spends are evidence the network must retain.
func (n *Node) AddSpend(spend *SignedSpend) error {
	if err := n.validator.ValidateSpend(spend); err != nil {
		return err
	}
	if err := spend.Verify(); err != nil {
		return err
	}

	_, bookErr := n.book.TryAdd(spend)

	addr := AddrFromSpend(spend.Address())
	rec := Record{Key: addr, Value: spend.ToBytes()}
	if err := n.PutRecord(rec, RecordTypeSpend); err != nil {
		return err
	}
	return bookErr
}

// GetSpend classifies a spend address in the local spend book.
func (n *Node) GetSpend(addr SpendAddress) SpendGet { return n.book.Get(addr) }

// AuditSpends verifies the whole spend DAG from a trusted source.
func (n *Node) AuditSpends(source SpendAddress) []DagError { return n.book.Verify(source) }

// OnCloseGroupChanged recomputes the replication distance range from the
// farthest member of the node's close group. Implements RoutingObserver.
func (n *Node) OnCloseGroupChanged(farthest NetworkAddress) {
	bucket, ok := n.self.DistanceTo(farthest).Ilog2()
	if !ok {
		return
	}
	n.mu.Lock()
	n.fetcher.SetDistanceRange(bucket)
	n.mu.Unlock()
}

// DropHolder cancels every outstanding fetch against a holder the routing
// layer knows is gone, freeing their slots immediately.
func (n *Node) DropHolder(holder PeerID) {
	n.tracker.CancelForHolder(holder)
}

// NotePaymentReceived bumps the payment counter reported in quotes.
func (n *Node) NotePaymentReceived() { n.receivedPayments.Add(1) }

// IssueQuote produces a signed payment quote for storing content. Requires
// the node to have been configured with a key pair.
func (n *Node) IssueQuote(content XorName, maxRecords uint64) (*PaymentQuote, error) {
	if n.cfg.KeyPair == nil {
		return nil, errors.New("node has no key pair, cannot quote")
	}
	now := n.cfg.Clock.Now()
	q := &PaymentQuote{
		Content:   content,
		Timestamp: now,
		Metrics: QuotingMetrics{
			CloseRecordsStored:   uint64(n.store.Len()),
			MaxRecords:           maxRecords,
			ReceivedPaymentCount: n.receivedPayments.Load(),
			LiveTime:             uint64(now.Sub(n.started).Seconds()),
		},
	}
	if err := q.Sign(n.cfg.KeyPair); err != nil {
		return nil, err
	}
	return q, nil
}

// AdvertiseStoredKeys sends the node's record inventory to a neighbour so
// it can fetch what it is missing.
func (n *Node) AdvertiseStoredKeys(ctx context.Context, to PeerID) error {
	stored := n.store.StoredKeys()
	entries := make([]RecordEntry, 0, len(stored))
	for id := range stored {
		entries = append(entries, RecordEntry{Addr: id.Addr, Type: id.Type})
	}
	return n.cfg.Network.SendReplicationNotice(ctx, to, entries)
}

// Close stops background fetches, snapshots the spend DAG if a path is
// configured, and closes the record store.
func (n *Node) Close() error {
	n.cancel()
	n.tracker.CancelAll()
	n.wg.Wait()

	var firstErr error
	if n.cfg.DagPath != "" {
		if err := n.book.Dump(n.cfg.DagPath); err != nil {
			firstErr = err
		}
	}
	if err := n.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
