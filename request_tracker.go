package xordrive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FetchTracker tracks in-flight network fetches and provides
// cancel-by-holder. When the routing layer learns a peer is gone, all
// outstanding fetches against it can be cancelled at once instead of each
// waiting out its own timeout.
type FetchTracker struct {
	mu sync.Mutex

	// Pending fetches indexed by holder
	pendingByHolder map[PeerID][]*trackedFetch

	// All pending fetches indexed by ID for fast lookup
	pendingByID map[uint64]*trackedFetch

	// ID counter for unique fetch IDs
	nextID atomic.Uint64

	cfg FetchTrackerConfig

	logger *zap.Logger

	// Stats
	totalStarted   uint64
	totalCompleted uint64
	totalCancelled uint64
}

// trackedFetch represents one pending network fetch.
type trackedFetch struct {
	ID        uint64
	Holder    PeerID
	Addr      NetworkAddress
	Type      RecordType
	StartedAt time.Time
	Cancel    context.CancelFunc
}

// FetchTrackerConfig configures the FetchTracker.
type FetchTrackerConfig struct {
	// MaxPendingPerHolder limits fetches per holder to prevent memory bloat.
	// When exceeded, the oldest fetch for that holder is cancelled.
	// Default: 100
	MaxPendingPerHolder int
}

// DefaultFetchTrackerConfig returns sensible defaults.
func DefaultFetchTrackerConfig() FetchTrackerConfig {
	return FetchTrackerConfig{
		MaxPendingPerHolder: 100,
	}
}

// NewFetchTracker creates a new FetchTracker.
func NewFetchTracker(cfg FetchTrackerConfig, logger *zap.Logger) *FetchTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPendingPerHolder < 1 {
		cfg.MaxPendingPerHolder = 100
	}

	return &FetchTracker{
		pendingByHolder: make(map[PeerID][]*trackedFetch),
		pendingByID:     make(map[uint64]*trackedFetch),
		cfg:             cfg,
		logger:          logger.With(zap.String("component", "fetch_tracker")),
	}
}

// Track registers a new fetch for tracking.
// Returns a context that will be cancelled if the holder is dropped,
// and a completion function that must be called when the fetch finishes.
func (ft *FetchTracker) Track(
	parentCtx context.Context,
	holder PeerID,
	addr NetworkAddress,
	typ RecordType,
) (context.Context, func()) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ctx, cancel := context.WithCancel(parentCtx)

	id := ft.nextID.Add(1)
	req := &trackedFetch{
		ID:        id,
		Holder:    holder,
		Addr:      addr,
		Type:      typ,
		StartedAt: time.Now(),
		Cancel:    cancel,
	}

	// Check capacity for this holder
	if len(ft.pendingByHolder[holder]) >= ft.cfg.MaxPendingPerHolder {
		oldest := ft.pendingByHolder[holder][0]
		oldest.Cancel()
		delete(ft.pendingByID, oldest.ID)
		ft.pendingByHolder[holder] = ft.pendingByHolder[holder][1:]
		ft.totalCancelled++
	}

	ft.pendingByHolder[holder] = append(ft.pendingByHolder[holder], req)
	ft.pendingByID[id] = req
	ft.totalStarted++

	ft.logger.Debug("tracking fetch",
		zap.Uint64("id", id),
		zap.String("holder", string(holder)),
		zap.Stringer("key", addr))

	complete := func() {
		ft.complete(id)
	}

	return ctx, complete
}

// complete marks a fetch as finished.
func (ft *FetchTracker) complete(id uint64) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	req, exists := ft.pendingByID[id]
	if !exists {
		return
	}

	delete(ft.pendingByID, id)

	// Remove from holder index
	holderReqs := ft.pendingByHolder[req.Holder]
	for i, r := range holderReqs {
		if r.ID == id {
			ft.pendingByHolder[req.Holder] = append(holderReqs[:i], holderReqs[i+1:]...)
			break
		}
	}

	// Clean up empty holder entries
	if len(ft.pendingByHolder[req.Holder]) == 0 {
		delete(ft.pendingByHolder, req.Holder)
	}

	ft.totalCompleted++

	ft.logger.Debug("fetch completed",
		zap.Uint64("id", id),
		zap.Duration("duration", time.Since(req.StartedAt)))
}

// CancelForHolder cancels all pending fetches against one holder.
func (ft *FetchTracker) CancelForHolder(holder PeerID) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	reqs := ft.pendingByHolder[holder]
	for _, req := range reqs {
		req.Cancel()
		delete(ft.pendingByID, req.ID)
		ft.totalCancelled++

		ft.logger.Debug("cancelled fetch for dropped holder",
			zap.Uint64("id", req.ID),
			zap.String("holder", string(holder)))
	}
	delete(ft.pendingByHolder, holder)
}

// CancelAll cancels all pending fetches.
func (ft *FetchTracker) CancelAll() {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for _, req := range ft.pendingByID {
		req.Cancel()
		ft.totalCancelled++
	}

	ft.pendingByHolder = make(map[PeerID][]*trackedFetch)
	ft.pendingByID = make(map[uint64]*trackedFetch)
}

// FetchTrackerStats contains statistics for monitoring.
type FetchTrackerStats struct {
	PendingCount   int
	TotalStarted   uint64
	TotalCompleted uint64
	TotalCancelled uint64
}

// Stats returns current statistics.
func (ft *FetchTracker) Stats() FetchTrackerStats {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	return FetchTrackerStats{
		PendingCount:   len(ft.pendingByID),
		TotalStarted:   ft.totalStarted,
		TotalCompleted: ft.totalCompleted,
		TotalCancelled: ft.totalCancelled,
	}
}

// PendingCount returns the number of pending fetches.
func (ft *FetchTracker) PendingCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.pendingByID)
}

// PendingForHolder returns the number of pending fetches against a holder.
func (ft *FetchTracker) PendingForHolder(holder PeerID) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.pendingByHolder[holder])
}
