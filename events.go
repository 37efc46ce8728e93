package xordrive

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// NetworkEvent is an advisory signal emitted by the core for the routing
// layer to act on. Events carry no correctness obligations; losing one only
// delays an optimization such as evicting a dead peer.
type NetworkEvent interface {
	eventName() string
}

// FailedToFetchHoldersEvent reports holders whose fetches timed out so the
// caller can demote or evict them from the routing table.
type FailedToFetchHoldersEvent struct {
	Holders []PeerID
}

func (FailedToFetchHoldersEvent) eventName() string { return "FailedToFetchHolders" }

// EventChannel delivers NetworkEvents to a possibly-slow consumer without
// ever blocking the emitting task: a full buffer falls back to a detached
// goroutine that completes the send in the background. Counters track how
// often the fallback fires.
type EventChannel struct {
	ch     chan NetworkEvent
	logger *zap.Logger

	sent     atomic.Uint64
	detached atomic.Uint64
}

// DefaultEventChannelCapacity is the buffer size used when none is given.
const DefaultEventChannelCapacity = 64

// NewEventChannel creates an event channel with the given buffer capacity.
func NewEventChannel(capacity int, logger *zap.Logger) *EventChannel {
	if capacity <= 0 {
		capacity = DefaultEventChannelCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventChannel{
		ch:     make(chan NetworkEvent, capacity),
		logger: logger,
	}
}

// Send delivers an event without blocking the caller.
func (e *EventChannel) Send(ev NetworkEvent) {
	select {
	case e.ch <- ev:
		e.sent.Add(1)
	default:
		e.detached.Add(1)
		e.logger.Debug("event channel full, detaching send",
			zap.String("event", ev.eventName()))
		go func() { e.ch <- ev }()
	}
}

// Receive returns the channel events arrive on.
func (e *EventChannel) Receive() <-chan NetworkEvent { return e.ch }

// EventChannelStats contains delivery counters for observability.
type EventChannelStats struct {
	Sent     uint64
	Detached uint64
}

// Stats returns current delivery counters.
func (e *EventChannel) Stats() EventChannelStats {
	return EventChannelStats{
		Sent:     e.sent.Load(),
		Detached: e.detached.Load(),
	}
}
