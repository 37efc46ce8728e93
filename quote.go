package xordrive

import (
	"encoding/binary"
	"errors"
	"time"
)

// QuoteExpiration is how long a payment quote stays valid after issue.
const QuoteExpiration = time.Hour

// LiveTimeMargin is the slack, in seconds, allowed between a quote pair's
// claimed live-time growth and the wall-clock time between them.
const LiveTimeMargin uint64 = 10

// QuotingMetrics is the node state snapshot a quote embeds, used to sanity
// check successive quotes from the same node against each other.
type QuotingMetrics struct {
	CloseRecordsStored   uint64
	MaxRecords           uint64
	ReceivedPaymentCount uint64
	// LiveTime is the node's claimed uptime in seconds at quoting time.
	LiveTime uint64
}

// PaymentQuote is a node's signed offer to store the content it names.
type PaymentQuote struct {
	Content   XorName
	Timestamp time.Time
	Metrics   QuotingMetrics
	// PubKey identifies the quoting node; the holder's peer identity must
	// derive from it.
	PubKey    []byte
	Signature []byte
}

// bytesForSig is the canonical byte form covered by the signature.
func (q *PaymentQuote) bytesForSig() []byte {
	buf := make([]byte, 0, XorNameLen+8*5)
	buf = append(buf, q.Content[:]...)
	var u [8]byte
	for _, v := range []uint64{
		uint64(q.Timestamp.Unix()),
		q.Metrics.CloseRecordsStored,
		q.Metrics.MaxRecords,
		q.Metrics.ReceivedPaymentCount,
		q.Metrics.LiveTime,
	} {
		binary.BigEndian.PutUint64(u[:], v)
		buf = append(buf, u[:]...)
	}
	return buf
}

// SignQuote signs the quote with the node's key and stamps it with the
// key's public half.
func (q *PaymentQuote) Sign(keyPair *BLSKeyPair) error {
	q.PubKey = keyPair.PublicKey
	sig, err := BLSSign(keyPair.PrivateKey, q.bytesForSig())
	if err != nil {
		return err
	}
	q.Signature = sig
	return nil
}

// CheckIsSignedByClaimedPeer verifies the signature and that the quote's
// public key actually belongs to the claimed peer.
func (q *PaymentQuote) CheckIsSignedByClaimedPeer(claimed PeerID) error {
	if len(q.PubKey) == 0 {
		return errors.New("quote carries no public key")
	}
	if PeerIDFromPublicKey(q.PubKey) != claimed {
		return errors.New("quote public key does not belong to claimed peer")
	}
	if !BLSVerify(q.PubKey, q.bytesForSig(), q.Signature) {
		return errors.New("invalid quote signature")
	}
	return nil
}

// HasExpired reports whether the quote is past its validity window.
func (q *PaymentQuote) HasExpired() bool {
	return time.Since(q.Timestamp) > QuoteExpiration
}

// IsNewerThan orders two quotes by issue time.
func (q *PaymentQuote) IsNewerThan(other *PaymentQuote) bool {
	return q.Timestamp.After(other.Timestamp)
}

// HistoricalVerify cross-checks two quotes from the same node: the claimed
// uptime must move in step with the wall-clock time between them. Returns
// false when the newer quote's claims are inconsistent with the older one,
// true when they are consistent or the timestamps make the check
// impossible.
func (q *PaymentQuote) HistoricalVerify(other *PaymentQuote) bool {
	return q.historicalVerifyAt(other, time.Now())
}

func (q *PaymentQuote) historicalVerifyAt(other *PaymentQuote, now time.Time) bool {
	if q.Timestamp.Equal(other.Timestamp) && q.Metrics == other.Metrics {
		return true
	}

	old, newer := q, other
	if q.IsNewerThan(other) {
		old, newer = other, q
	}

	// Uptime never decreases.
	if newer.Metrics.LiveTime < old.Metrics.LiveTime {
		return false
	}
	// Payments received never decrease.
	if newer.Metrics.ReceivedPaymentCount < old.Metrics.ReceivedPaymentCount {
		return false
	}

	oldElapsed := now.Sub(old.Timestamp)
	newElapsed := now.Sub(newer.Timestamp)
	if oldElapsed < 0 || newElapsed < 0 {
		// Future-dated timestamps make the uptime check meaningless.
		return true
	}

	timeDiff := uint64(0)
	if oldElapsed > newElapsed {
		timeDiff = uint64((oldElapsed - newElapsed).Seconds())
	}
	liveTimeDiff := newer.Metrics.LiveTime - old.Metrics.LiveTime
	return liveTimeDiff <= timeDiff+LiveTimeMargin
}
