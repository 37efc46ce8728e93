package xordrive_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedlt/xordrive"
	"github.com/edgedlt/xordrive/clock"
	"github.com/edgedlt/xordrive/internal/testutil"
)

type fetcherHarness struct {
	fetcher *xordrive.ReplicationFetcher
	clk     *clock.Mock
	events  *xordrive.EventChannel
	stored  map[xordrive.RecordID]struct{}
}

func newFetcherHarness(t *testing.T, cfg xordrive.FetcherConfig, hooks *xordrive.Hooks) *fetcherHarness {
	t.Helper()
	clk := clock.NewMock(time.Unix(1_700_000_000, 0))
	events := xordrive.NewEventChannel(16, nil)
	self := testutil.ChunkAddr("self")
	return &fetcherHarness{
		fetcher: xordrive.NewReplicationFetcherWithHooks(cfg, self, events, hooks, clk, nil),
		clk:     clk,
		events:  events,
		stored:  make(map[xordrive.RecordID]struct{}),
	}
}

func (h *fetcherHarness) markStored(targets ...xordrive.FetchTarget) {
	for _, tgt := range targets {
		h.stored[xordrive.RecordID{Addr: tgt.Addr, Type: tgt.Type}] = struct{}{}
	}
}

func TestReplicationFetcher_SingleKeyFastPath(t *testing.T) {
	h := newFetcherHarness(t, xordrive.DefaultFetcherConfig(), nil)

	targets := h.fetcher.AddKeys(testutil.Peer("a"), testutil.ChunkEntries(1), h.stored)

	require.Len(t, targets, 1)
	assert.Equal(t, testutil.Peer("a"), targets[0].Holder)
	assert.Equal(t, 1, h.fetcher.InFlightCount())
	assert.Equal(t, 0, h.fetcher.PendingCount())
}

func TestReplicationFetcher_FastPathRespectsCap(t *testing.T) {
	cfg := xordrive.DefaultFetcherConfig()
	cfg.MaxParallelFetch = 2
	h := newFetcherHarness(t, cfg, nil)

	// Fill the in-flight set
	targets := h.fetcher.AddKeys(testutil.Peer("a"), testutil.ChunkEntries(2), h.stored)
	require.Len(t, targets, 2)
	require.Equal(t, 2, h.fetcher.InFlightCount())

	// Singleton advertisement may not bypass the concurrency ceiling
	targets = h.fetcher.AddKeys(testutil.Peer("b"), []xordrive.RecordEntry{testutil.ChunkEntry("fresh")}, h.stored)
	assert.Empty(t, targets)
	assert.Equal(t, 2, h.fetcher.InFlightCount())
	assert.Equal(t, 1, h.fetcher.PendingCount())
}

func TestReplicationFetcher_CapNeverExceeded(t *testing.T) {
	cfg := xordrive.DefaultFetcherConfig()
	cfg.MaxParallelFetch = 3
	h := newFetcherHarness(t, cfg, nil)

	targets := h.fetcher.AddKeys(testutil.Peer("a"), testutil.ChunkEntries(10), h.stored)

	assert.Len(t, targets, 3)
	assert.Equal(t, 3, h.fetcher.InFlightCount())
	assert.Equal(t, 7, h.fetcher.PendingCount())
}

func TestReplicationFetcher_SkipsLocallyStored(t *testing.T) {
	h := newFetcherHarness(t, xordrive.DefaultFetcherConfig(), nil)

	entries := testutil.ChunkEntries(4)
	h.stored[entries[0].ID()] = struct{}{}
	h.stored[entries[1].ID()] = struct{}{}

	targets := h.fetcher.AddKeys(testutil.Peer("a"), entries, h.stored)

	assert.Len(t, targets, 2)
	for _, tgt := range targets {
		_, held := h.stored[xordrive.RecordID{Addr: tgt.Addr, Type: tgt.Type}]
		assert.False(t, held, "held records must never be fetched")
	}
}

func TestReplicationFetcher_OneHolderPerRecordInFlight(t *testing.T) {
	h := newFetcherHarness(t, xordrive.DefaultFetcherConfig(), nil)

	entry := testutil.ChunkEntry("shared")
	targets := h.fetcher.AddKeys(testutil.Peer("a"), []xordrive.RecordEntry{entry}, h.stored)
	require.Len(t, targets, 1)

	// A second holder advertising the same record must queue, not duplicate
	// the in-flight fetch.
	targets = h.fetcher.AddKeys(testutil.Peer("b"), []xordrive.RecordEntry{entry, testutil.ChunkEntry("other")}, h.stored)
	for _, tgt := range targets {
		assert.NotEqual(t, entry.Addr, tgt.Addr)
	}
	assert.Equal(t, 2, h.fetcher.InFlightCount())
}

func TestReplicationFetcher_NotifyAboutNewPutRefills(t *testing.T) {
	cfg := xordrive.DefaultFetcherConfig()
	cfg.MaxParallelFetch = 1
	h := newFetcherHarness(t, cfg, nil)

	targets := h.fetcher.AddKeys(testutil.Peer("a"), testutil.ChunkEntries(3), h.stored)
	require.Len(t, targets, 1)
	require.Equal(t, 2, h.fetcher.PendingCount())

	h.markStored(targets[0])
	next := h.fetcher.NotifyAboutNewPut(targets[0].Addr, targets[0].Type)

	require.Len(t, next, 1)
	assert.NotEqual(t, targets[0].Addr, next[0].Addr)
	assert.Equal(t, 1, h.fetcher.InFlightCount())
}

func TestReplicationFetcher_NotifyForUntrackedRecord(t *testing.T) {
	h := newFetcherHarness(t, xordrive.DefaultFetcherConfig(), nil)

	next := h.fetcher.NotifyAboutNewPut(testutil.ChunkAddr("never-seen"), xordrive.RecordTypeChunk)
	assert.Empty(t, next)
}

func TestReplicationFetcher_PendingExpiry(t *testing.T) {
	cfg := xordrive.DefaultFetcherConfig()
	cfg.MaxParallelFetch = 1
	h := newFetcherHarness(t, cfg, nil)

	targets := h.fetcher.AddKeys(testutil.Peer("a"), testutil.ChunkEntries(3), h.stored)
	require.Len(t, targets, 1)
	require.Equal(t, 2, h.fetcher.PendingCount())

	// Advertisements go stale after the pending timeout.
	h.clk.Advance(cfg.PendingTimeout + time.Second)
	h.markStored(targets[0])
	next := h.fetcher.NotifyAboutNewPut(targets[0].Addr, targets[0].Type)

	assert.Empty(t, next)
	assert.Equal(t, 0, h.fetcher.PendingCount())
}

func TestReplicationFetcher_InFlightExpiryReportsHolders(t *testing.T) {
	cfg := xordrive.DefaultFetcherConfig()
	cfg.MaxParallelFetch = 2
	h := newFetcherHarness(t, cfg, nil)

	targets := h.fetcher.AddKeys(testutil.Peer("slow"), testutil.ChunkEntries(4), h.stored)
	require.Len(t, targets, 2)

	h.clk.Advance(cfg.FetchTimeout + time.Second)
	next := h.fetcher.NextKeysToFetch()

	// Timed-out fetches freed capacity for the queued keys.
	assert.Len(t, next, 2)
	assert.Equal(t, 2, h.fetcher.InFlightCount())

	select {
	case ev := <-h.events.Receive():
		failed, ok := ev.(xordrive.FailedToFetchHoldersEvent)
		require.True(t, ok)
		assert.Equal(t, []xordrive.PeerID{testutil.Peer("slow")}, failed.Holders)
	default:
		t.Fatal("expected a FailedToFetchHolders event")
	}
}

func TestReplicationFetcher_DistanceRangeFilter(t *testing.T) {
	h := newFetcherHarness(t, xordrive.DefaultFetcherConfig(), nil)

	// The widest range keeps everything.
	h.fetcher.SetDistanceRange(255)
	targets := h.fetcher.AddKeys(testutil.Peer("a"), testutil.ChunkEntries(3), h.stored)
	assert.Len(t, targets, 3)

	// Bucket 0 only holds the node's own address, so fresh keys are out of
	// range and dropped. More than one entry sidesteps the singleton fast
	// path, which skips the range check.
	h.fetcher.SetDistanceRange(0)
	targets = h.fetcher.AddKeys(testutil.Peer("a"), []xordrive.RecordEntry{
		testutil.ChunkEntry("far-1"),
		testutil.ChunkEntry("far-2"),
	}, h.stored)
	assert.Empty(t, targets)
	assert.Equal(t, 0, h.fetcher.PendingCount())
}

func TestReplicationFetcher_AddKeysLeavesCallerSliceIntact(t *testing.T) {
	h := newFetcherHarness(t, xordrive.DefaultFetcherConfig(), nil)

	// A range one bucket below the maximum drops some of the advertised
	// keys but not all of them, so the filter has to rearrange what it
	// keeps. The caller's slice must not see that rearrangement.
	h.fetcher.SetDistanceRange(254)
	entries := testutil.ChunkEntries(5)
	original := append([]xordrive.RecordEntry(nil), entries...)

	targets := h.fetcher.AddKeys(testutil.Peer("a"), entries, h.stored)

	require.NotEmpty(t, targets)
	require.Less(t, len(targets), len(entries))
	assert.Equal(t, original, entries)
}

func TestReplicationFetcher_ClosestFirstOrdering(t *testing.T) {
	cfg := xordrive.DefaultFetcherConfig()
	cfg.MaxParallelFetch = 1
	h := newFetcherHarness(t, cfg, nil)

	self := testutil.ChunkAddr("self")
	entries := testutil.ChunkEntries(6)
	targets := h.fetcher.AddKeys(testutil.Peer("a"), entries, h.stored)
	require.Len(t, targets, 1)

	// The promoted key is the closest of the batch to self.
	promoted := self.DistanceTo(targets[0].Addr)
	for _, entry := range entries {
		assert.LessOrEqual(t, promoted.Compare(self.DistanceTo(entry.Addr)), 0)
	}
}

func TestReplicationFetcher_Hooks(t *testing.T) {
	var promoted, timedOut, outOfRange int
	hooks := &xordrive.Hooks{
		OnFetchPromoted:  func(xordrive.FetchPromotedEvent) { promoted++ },
		OnFetchTimedOut:  func(xordrive.FetchTimedOutEvent) { timedOut++ },
		OnKeysOutOfRange: func(xordrive.KeysOutOfRangeEvent) { outOfRange++ },
	}
	cfg := xordrive.DefaultFetcherConfig()
	cfg.MaxParallelFetch = 2
	h := newFetcherHarness(t, cfg, hooks)

	h.fetcher.AddKeys(testutil.Peer("a"), testutil.ChunkEntries(2), h.stored)
	assert.Equal(t, 2, promoted)

	h.clk.Advance(cfg.FetchTimeout + time.Second)
	h.fetcher.NextKeysToFetch()
	assert.Equal(t, 2, timedOut)

	h.fetcher.SetDistanceRange(0)
	h.fetcher.AddKeys(testutil.Peer("a"), testutil.ChunkEntries(2), h.stored)
	assert.Equal(t, 1, outOfRange)
}
