package xordrive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedlt/xordrive"
	"github.com/edgedlt/xordrive/internal/testutil"
)

func TestXorNameFromContent_Deterministic(t *testing.T) {
	a := xordrive.XorNameFromContent([]byte("data"))
	b := xordrive.XorNameFromContent([]byte("data"))
	c := xordrive.XorNameFromContent([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a.Bytes(), xordrive.XorNameLen)
}

func TestNetworkAddress_KindsAreDistinct(t *testing.T) {
	name := xordrive.XorNameFromContent([]byte("same"))
	chunk := xordrive.AddrFromChunk(xordrive.ChunkAddress{Name: name})
	spend := xordrive.AddrFromSpend(xordrive.SpendAddress{Name: name})

	// Identical raw bytes under different kinds are different addresses.
	assert.False(t, chunk.Equal(spend))
	assert.Equal(t, xordrive.KindChunk, chunk.Kind())
	assert.Equal(t, xordrive.KindSpend, spend.Kind())
	assert.Equal(t, chunk.Bytes(), spend.Bytes())
	assert.NotEqual(t, 0, chunk.Compare(spend))
}

func TestNetworkAddress_AsPeerID(t *testing.T) {
	peer := testutil.Peer("a")
	addr := xordrive.AddrFromPeer(peer)

	got, ok := addr.AsPeerID()
	assert.True(t, ok)
	assert.Equal(t, peer, got)

	_, ok = testutil.ChunkAddr("x").AsPeerID()
	assert.False(t, ok)
}

func TestNetworkAddress_UsableAsMapKey(t *testing.T) {
	m := map[xordrive.NetworkAddress]int{}
	m[testutil.ChunkAddr("a")] = 1
	m[testutil.ChunkAddr("a")] = 2
	m[testutil.ChunkAddr("b")] = 3

	assert.Len(t, m, 2)
	assert.Equal(t, 2, m[testutil.ChunkAddr("a")])
}

func TestDistance_Symmetric(t *testing.T) {
	a := testutil.ChunkAddr("a")
	b := testutil.ChunkAddr("b")

	assert.Equal(t, a.DistanceTo(b), b.DistanceTo(a))
}

func TestDistance_ZeroToSelf(t *testing.T) {
	a := testutil.ChunkAddr("a")

	d := a.DistanceTo(a)
	assert.Equal(t, xordrive.Distance{}, d)

	_, ok := d.Ilog2()
	assert.False(t, ok, "zero distance has no bucket")
}

func TestDistance_Ilog2(t *testing.T) {
	a := testutil.ChunkAddr("a")
	b := testutil.ChunkAddr("b")

	bucket, ok := a.DistanceTo(b).Ilog2()
	require.True(t, ok)
	assert.LessOrEqual(t, bucket, uint32(xordrive.XorNameLen*8-1))

	// The bucket of a distance is the position of its highest set bit, so
	// halving any distance below it lowers the bucket.
	var small xordrive.Distance
	small[xordrive.XorNameLen-1] = 0x01
	bucket, ok = small.Ilog2()
	require.True(t, ok)
	assert.Equal(t, uint32(0), bucket)

	var big xordrive.Distance
	big[0] = 0x80
	bucket, ok = big.Ilog2()
	require.True(t, ok)
	assert.Equal(t, uint32(xordrive.XorNameLen*8-1), bucket)
}

func TestSortAddrsByDistance(t *testing.T) {
	target := testutil.ChunkAddr("target")
	addrs := []xordrive.NetworkAddress{
		testutil.ChunkAddr("w"),
		testutil.ChunkAddr("x"),
		testutil.ChunkAddr("y"),
		testutil.ChunkAddr("z"),
	}

	xordrive.SortAddrsByDistance(target, addrs)

	for i := 1; i < len(addrs); i++ {
		prev := target.DistanceTo(addrs[i-1])
		cur := target.DistanceTo(addrs[i])
		assert.LessOrEqual(t, prev.Compare(cur), 0)
	}
}

func TestCloseGroupMajority(t *testing.T) {
	assert.Equal(t, 3, xordrive.CloseGroupMajority())
	assert.Greater(t, xordrive.CloseGroupMajority()*2, xordrive.CloseGroupSize)
}

func TestRecordEntry_ID(t *testing.T) {
	addr := testutil.ChunkAddr("k")
	chunk := xordrive.RecordEntry{Addr: addr, Type: xordrive.RecordTypeChunk}
	spendRec := xordrive.RecordEntry{Addr: addr, Type: xordrive.RecordTypeSpend}

	// Same address under different record types is a different identity.
	assert.NotEqual(t, chunk.ID(), spendRec.ID())
}

func TestRecord_ContentHash(t *testing.T) {
	a := xordrive.Record{Key: testutil.ChunkAddr("k"), Value: []byte("one")}
	b := xordrive.Record{Key: testutil.ChunkAddr("k"), Value: []byte("two")}

	assert.NotEqual(t, a.ContentHash(), b.ContentHash())
	assert.Equal(t, a.ContentHash(), xordrive.XorNameFromContent([]byte("one")))
}

func TestPeerIDFromPublicKey(t *testing.T) {
	kp := testutil.KeyPair()

	id := xordrive.PeerIDFromPublicKey(kp.PublicKey)
	assert.Equal(t, id, xordrive.PeerIDFromPublicKey(kp.PublicKey))
	assert.NotEqual(t, id, xordrive.PeerIDFromPublicKey(testutil.KeyPair().PublicKey))
}
