// Package testutil provides test fixtures for the xordrive library.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgedlt/xordrive"
)

// ChunkAddr returns a chunk network address derived from a seed string.
func ChunkAddr(seed string) xordrive.NetworkAddress {
	return xordrive.AddrFromChunk(xordrive.ChunkAddress{
		Name: xordrive.XorNameFromContent([]byte(seed)),
	})
}

// ChunkEntry returns a chunk record entry derived from a seed string.
func ChunkEntry(seed string) xordrive.RecordEntry {
	return xordrive.RecordEntry{Addr: ChunkAddr(seed), Type: xordrive.RecordTypeChunk}
}

// ChunkEntries returns n distinct chunk record entries.
func ChunkEntries(n int) []xordrive.RecordEntry {
	entries := make([]xordrive.RecordEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, ChunkEntry(fmt.Sprintf("chunk-%d", i)))
	}
	return entries
}

// Peer returns a deterministic peer id from a seed string.
func Peer(seed string) xordrive.PeerID {
	return xordrive.PeerID("peer-" + seed)
}

// Record returns a record whose value is the seed string.
func Record(seed string) xordrive.Record {
	return xordrive.Record{Key: ChunkAddr(seed), Value: []byte(seed)}
}

// KeyPair generates a BLS key pair, failing the caller on error.
func KeyPair() *xordrive.BLSKeyPair {
	kp, err := xordrive.GenerateBLSKeyPair()
	if err != nil {
		panic(err)
	}
	return kp
}

// SpendChain is a linear chain of signed spends starting at a genesis.
// Each spend consumes the whole balance of the previous one.
type SpendChain struct {
	KeyPairs []*xordrive.BLSKeyPair
	Spends   []*xordrive.SignedSpend
}

// GenesisAddress returns the address of the chain's genesis spend.
func (c *SpendChain) GenesisAddress() xordrive.SpendAddress {
	return c.Spends[0].Address()
}

// NewSpendChain builds a genesis spend plus length-1 descendants, each
// spending the full amount onward to a fresh key.
func NewSpendChain(length int, amount uint64) *SpendChain {
	if length < 1 {
		panic("spend chain needs at least the genesis")
	}

	keyPairs := make([]*xordrive.BLSKeyPair, length+1)
	for i := range keyPairs {
		keyPairs[i] = KeyPair()
	}

	chain := &SpendChain{KeyPairs: keyPairs}
	for i := 0; i < length; i++ {
		spend := xordrive.Spend{
			UniquePubkey: keyPairs[i].PublicKey,
			Amount:       amount,
			SpentTx: xordrive.Transaction{
				Inputs:  []xordrive.Input{{UniquePubkey: keyPairs[i].PublicKey, Amount: amount}},
				Outputs: []xordrive.Output{{UniquePubkey: keyPairs[i+1].PublicKey, Amount: amount}},
			},
		}
		if i > 0 {
			// Non-genesis spends are created by the previous spend's tx.
			spend.ParentTx = chain.Spends[i-1].Spend.SpentTx
		}
		signed, err := xordrive.SignSpend(spend, keyPairs[i])
		if err != nil {
			panic(err)
		}
		chain.Spends = append(chain.Spends, signed)
	}
	return chain
}

// FakeNetwork is an in-memory NetworkClient. Records are served from a
// per-peer map; missing entries return an error.
type FakeNetwork struct {
	mu sync.Mutex

	// Held maps peer -> address -> record.
	Held map[xordrive.PeerID]map[xordrive.NetworkAddress]xordrive.Record

	// Peers is what ClosestPeers returns, already ordered.
	Peers []xordrive.PeerID

	// Notices records every replication notice sent.
	Notices []SentNotice

	// FetchCalls counts FetchRecord invocations.
	FetchCalls int
}

// SentNotice is one recorded replication notice.
type SentNotice struct {
	To      xordrive.PeerID
	Entries []xordrive.RecordEntry
}

// NewFakeNetwork creates an empty fake network.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{
		Held: make(map[xordrive.PeerID]map[xordrive.NetworkAddress]xordrive.Record),
	}
}

// Hold makes a peer serve a record.
func (f *FakeNetwork) Hold(peer xordrive.PeerID, rec xordrive.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Held[peer] == nil {
		f.Held[peer] = make(map[xordrive.NetworkAddress]xordrive.Record)
	}
	f.Held[peer][rec.Key] = rec
}

// FetchRecord serves a record from the peer's held map.
func (f *FakeNetwork) FetchRecord(ctx context.Context, holder xordrive.PeerID, addr xordrive.NetworkAddress, typ xordrive.RecordType) (xordrive.Record, error) {
	if err := ctx.Err(); err != nil {
		return xordrive.Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls++
	if rec, ok := f.Held[holder][addr]; ok {
		return rec, nil
	}
	return xordrive.Record{}, fmt.Errorf("peer %s does not hold %s", holder, addr)
}

// SendReplicationNotice records the notice.
func (f *FakeNetwork) SendReplicationNotice(ctx context.Context, to xordrive.PeerID, entries []xordrive.RecordEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notices = append(f.Notices, SentNotice{To: to, Entries: entries})
	return nil
}

// ClosestPeers returns the configured peer list, truncated to count.
func (f *FakeNetwork) ClosestPeers(addr xordrive.NetworkAddress, count int) []xordrive.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if count > len(f.Peers) {
		count = len(f.Peers)
	}
	return append([]xordrive.PeerID(nil), f.Peers[:count]...)
}
