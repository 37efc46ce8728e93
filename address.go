// Package xordrive implements the core of a content-addressed storage
// network node: XOR-metric addressing, the replication fetcher that keeps a
// node's record set consistent with its Kademlia neighborhood, the
// get-record quorum accumulator, and the spend DAG used for double-spend
// detection. Transport, routing and wire codecs are external collaborators
// reached through interfaces.
package xordrive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
)

// XorNameLen is the byte length of every name in the XOR address space.
const XorNameLen = 32

// XorName is a fixed-length name in the XOR address space.
type XorName [XorNameLen]byte

// XorNameFromContent derives a name from arbitrary content bytes.
func XorNameFromContent(data []byte) XorName {
	return sha256.Sum256(data)
}

// Bytes returns the name as a byte slice.
func (n XorName) Bytes() []byte { return n[:] }

// String returns a short hex form for logging.
func (n XorName) String() string { return hex.EncodeToString(n[:8]) + ".." }

// PeerID identifies a peer on the network. It is opaque to this package;
// the transport layer owns its derivation.
type PeerID string

// Bytes returns the raw peer identifier bytes.
func (p PeerID) Bytes() []byte { return []byte(p) }

// PeerIDFromPublicKey derives the canonical peer identity for a public key.
func PeerIDFromPublicKey(pubKey []byte) PeerID {
	name := XorNameFromContent(pubKey)
	return PeerID(hex.EncodeToString(name[:]))
}

// ChunkAddress is the network address of an immutable chunk.
type ChunkAddress struct{ Name XorName }

// SpendAddress is the network address of a spend transaction.
type SpendAddress struct{ Name XorName }

// SpendAddressFromPubkey derives the address a spend must live at from the
// unique public key of the cash note being spent.
func SpendAddressFromPubkey(pubKey []byte) SpendAddress {
	return SpendAddress{Name: XorNameFromContent(pubKey)}
}

// RegisterAddress is the network address of a mutable CRDT register.
type RegisterAddress struct{ Name XorName }

// ScratchpadAddress is the network address of a mutable scratchpad.
type ScratchpadAddress struct{ Name XorName }

// AddressKind tags the variant held by a NetworkAddress.
type AddressKind uint8

const (
	KindPeer AddressKind = iota
	KindChunk
	KindSpend
	KindRegister
	KindRecordKey
	KindScratchpad
)

// String returns a human-readable name for the address kind.
func (k AddressKind) String() string {
	switch k {
	case KindPeer:
		return "PEER"
	case KindChunk:
		return "CHUNK"
	case KindSpend:
		return "SPEND"
	case KindRegister:
		return "REGISTER"
	case KindRecordKey:
		return "RECORD_KEY"
	case KindScratchpad:
		return "SCRATCHPAD"
	default:
		return "UNKNOWN"
	}
}

// NetworkAddress is the address by which proximity to other items (whether
// peers or data) is calculated. Every variant resolves deterministically to
// a byte string: equality and ordering are defined over the raw bytes,
// distance over their sha256 (so that variable-length peer identifiers and
// fixed-length content names share one metric space).
//
// A NetworkAddress is immutable once constructed and usable as a map key.
type NetworkAddress struct {
	kind AddressKind
	raw  string
}

// AddrFromPeer returns the NetworkAddress of a peer.
func AddrFromPeer(p PeerID) NetworkAddress {
	return NetworkAddress{kind: KindPeer, raw: string(p)}
}

// AddrFromChunk returns the NetworkAddress of a chunk.
func AddrFromChunk(a ChunkAddress) NetworkAddress {
	return NetworkAddress{kind: KindChunk, raw: string(a.Name[:])}
}

// AddrFromSpend returns the NetworkAddress of a spend.
func AddrFromSpend(a SpendAddress) NetworkAddress {
	return NetworkAddress{kind: KindSpend, raw: string(a.Name[:])}
}

// AddrFromRegister returns the NetworkAddress of a register.
func AddrFromRegister(a RegisterAddress) NetworkAddress {
	return NetworkAddress{kind: KindRegister, raw: string(a.Name[:])}
}

// AddrFromScratchpad returns the NetworkAddress of a scratchpad.
func AddrFromScratchpad(a ScratchpadAddress) NetworkAddress {
	return NetworkAddress{kind: KindScratchpad, raw: string(a.Name[:])}
}

// AddrFromRecordKey wraps a raw DHT record key.
func AddrFromRecordKey(key []byte) NetworkAddress {
	return NetworkAddress{kind: KindRecordKey, raw: string(key)}
}

// addrFromKindBytes reassembles an address from its stored form.
func addrFromKindBytes(kind AddressKind, raw []byte) NetworkAddress {
	return NetworkAddress{kind: kind, raw: string(raw)}
}

// Kind returns the variant tag.
func (a NetworkAddress) Kind() AddressKind { return a.kind }

// Bytes returns the encapsulated bytes of the address.
func (a NetworkAddress) Bytes() []byte { return []byte(a.raw) }

// Equal reports whether two addresses have the same kind and bytes.
func (a NetworkAddress) Equal(other NetworkAddress) bool {
	return a.kind == other.kind && a.raw == other.raw
}

// Compare orders addresses by their raw bytes, then by kind.
func (a NetworkAddress) Compare(other NetworkAddress) int {
	if c := bytes.Compare([]byte(a.raw), []byte(other.raw)); c != 0 {
		return c
	}
	return int(a.kind) - int(other.kind)
}

// AsPeerID returns the represented peer, if this is a peer address.
func (a NetworkAddress) AsPeerID() (PeerID, bool) {
	if a.kind != KindPeer {
		return "", false
	}
	return PeerID(a.raw), true
}

// String returns a short form for logging.
func (a NetworkAddress) String() string {
	raw := []byte(a.raw)
	if len(raw) > 8 {
		raw = raw[:8]
	}
	return a.kind.String() + "(" + hex.EncodeToString(raw) + "..)"
}

// distanceKey is the point this address occupies in the metric space.
func (a NetworkAddress) distanceKey() XorName {
	return sha256.Sum256([]byte(a.raw))
}

// Distance is the XOR metric between two network addresses.
type Distance [XorNameLen]byte

// DistanceTo returns the XOR distance between two addresses.
func (a NetworkAddress) DistanceTo(other NetworkAddress) Distance {
	ka, kb := a.distanceKey(), other.distanceKey()
	var d Distance
	for i := range d {
		d[i] = ka[i] ^ kb[i]
	}
	return d
}

// Compare orders distances as big-endian unsigned integers.
func (d Distance) Compare(other Distance) int {
	return bytes.Compare(d[:], other[:])
}

// Ilog2 returns the bucket index of the distance: the position of its most
// significant set bit, counting from zero. Returns false for the zero
// distance (an address compared with itself).
func (d Distance) Ilog2() (uint32, bool) {
	for i, b := range d {
		if b != 0 {
			zeros := i*8 + bits.LeadingZeros8(b)
			return uint32(XorNameLen*8 - 1 - zeros), true
		}
	}
	return 0, false
}

// RecordType distinguishes chunk data from the mutable record kinds. Two
// record keys with identical bytes but different types are never duplicates
// of each other.
type RecordType uint8

const (
	RecordTypeChunk RecordType = iota
	RecordTypeSpend
	RecordTypeRegister
	RecordTypeScratchpad
	RecordTypeNonChunk
)

// String returns a human-readable name for the record type.
func (t RecordType) String() string {
	switch t {
	case RecordTypeChunk:
		return "CHUNK"
	case RecordTypeSpend:
		return "SPEND"
	case RecordTypeRegister:
		return "REGISTER"
	case RecordTypeScratchpad:
		return "SCRATCHPAD"
	case RecordTypeNonChunk:
		return "NON_CHUNK"
	default:
		return "UNKNOWN"
	}
}

// RecordID is the duplicate-detection identity of a record: its address
// plus its type. Comparable, usable as a map key.
type RecordID struct {
	Addr NetworkAddress
	Type RecordType
}

// RecordEntry is one (address, type) pair in a replication advertisement.
type RecordEntry struct {
	Addr NetworkAddress
	Type RecordType
}

// ID returns the entry's duplicate-detection identity.
func (e RecordEntry) ID() RecordID { return RecordID{Addr: e.Addr, Type: e.Type} }

// Record is a stored or fetched unit of data.
type Record struct {
	Key   NetworkAddress
	Value []byte
}

// ContentHash derives the name used to tell divergent copies of the same
// key apart.
func (r Record) ContentHash() XorName { return XorNameFromContent(r.Value) }

// PeerRecord is a record together with the peer that served it.
type PeerRecord struct {
	Peer   PeerID
	Record Record
}

// FetchTarget names a record to fetch and the holder to fetch it from.
type FetchTarget struct {
	Holder PeerID
	Addr   NetworkAddress
	Type   RecordType
}

// CloseGroupSize is the number of peers surrounding an address that are
// collectively responsible for storing its data.
const CloseGroupSize = 5

// CloseGroupMajority returns the number of matching answers that
// constitutes a majority of a close group.
func CloseGroupMajority() int { return CloseGroupSize/2 + 1 }

// SortAddrsByDistance sorts addresses in place by ascending XOR distance
// from the target.
func SortAddrsByDistance(target NetworkAddress, addrs []NetworkAddress) {
	key := target.distanceKey()
	dist := func(a NetworkAddress) Distance {
		ka := a.distanceKey()
		var d Distance
		for i := range d {
			d[i] = key[i] ^ ka[i]
		}
		return d
	}
	// Insertion sort keeps this allocation-free for the small close-group
	// sized inputs it is called with.
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && dist(addrs[j]).Compare(dist(addrs[j-1])) < 0; j-- {
			addrs[j], addrs[j-1] = addrs[j-1], addrs[j]
		}
	}
}
