package xordrive

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Output is one beneficiary of a transaction: a cash-note key and the
// amount assigned to it.
type Output struct {
	UniquePubkey []byte
	Amount       uint64
}

// Input is one cash note consumed by a transaction.
type Input struct {
	UniquePubkey []byte
	Amount       uint64
}

// Transaction moves value from a set of input cash notes to a set of
// output cash notes.
type Transaction struct {
	Inputs  []Input
	Outputs []Output
}

// Hash returns the content hash of the transaction's canonical encoding.
func (t Transaction) Hash() XorName {
	return XorNameFromContent(t.encode())
}

// OutputAmount returns the amount this transaction assigns to the given
// cash-note key, if any.
func (t Transaction) OutputAmount(uniquePubkey []byte) (uint64, bool) {
	for _, out := range t.Outputs {
		if bytes.Equal(out.UniquePubkey, uniquePubkey) {
			return out.Amount, true
		}
	}
	return 0, false
}

func (t Transaction) encode() []byte {
	var buf bytes.Buffer
	writeUint(&buf, uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		writeBytes(&buf, in.UniquePubkey)
		writeUint(&buf, in.Amount)
	}
	writeUint(&buf, uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		writeBytes(&buf, out.UniquePubkey)
		writeUint(&buf, out.Amount)
	}
	return buf.Bytes()
}

// Spend records that a cash note was consumed. ParentTx is the transaction
// that created the note (its inputs are this spend's ancestors); SpentTx is
// the transaction consuming it (its outputs are this spend's descendants).
type Spend struct {
	// UniquePubkey is the key of the cash note being spent; the spend's
	// network address is derived from it.
	UniquePubkey []byte

	// Amount is the value of the cash note.
	Amount uint64

	// Reason is an optional caller-supplied tag carried with the spend.
	Reason []byte

	ParentTx Transaction
	SpentTx  Transaction
}

// Address returns the network address this spend must be stored at.
func (s *Spend) Address() SpendAddress {
	return SpendAddressFromPubkey(s.UniquePubkey)
}

// AncestorAddresses returns the addresses of the spends that created this
// cash note's inputs.
func (s *Spend) AncestorAddresses() []SpendAddress {
	addrs := make([]SpendAddress, 0, len(s.ParentTx.Inputs))
	for _, in := range s.ParentTx.Inputs {
		addrs = append(addrs, SpendAddressFromPubkey(in.UniquePubkey))
	}
	return addrs
}

// DescendantAddresses returns the addresses of the spends this spend's
// outputs will be consumed at.
func (s *Spend) DescendantAddresses() []SpendAddress {
	addrs := make([]SpendAddress, 0, len(s.SpentTx.Outputs))
	for _, out := range s.SpentTx.Outputs {
		addrs = append(addrs, SpendAddressFromPubkey(out.UniquePubkey))
	}
	return addrs
}

// ToBytesForSigning returns the canonical byte form covered by the spend
// signature.
func (s *Spend) ToBytesForSigning() []byte {
	var buf bytes.Buffer
	writeBytes(&buf, s.UniquePubkey)
	writeUint(&buf, s.Amount)
	writeBytes(&buf, s.Reason)
	writeBytes(&buf, s.ParentTx.encode())
	writeBytes(&buf, s.SpentTx.encode())
	return buf.Bytes()
}

// SignedSpend is a spend plus the owning key's signature over it. Two
// SignedSpends at the same address with different content constitute a
// double spend.
type SignedSpend struct {
	Spend         Spend
	DerivedKeySig []byte
}

// SignSpend signs a spend with the key pair owning its cash note. The key
// pair's public key must be the spend's unique pubkey.
func SignSpend(spend Spend, keyPair *BLSKeyPair) (*SignedSpend, error) {
	if !bytes.Equal(spend.UniquePubkey, keyPair.PublicKey) {
		return nil, fmt.Errorf("key pair does not own cash note %s", spend.Address().Name)
	}
	sig, err := BLSSign(keyPair.PrivateKey, spend.ToBytesForSigning())
	if err != nil {
		return nil, fmt.Errorf("failed to sign spend: %w", err)
	}
	return &SignedSpend{Spend: spend, DerivedKeySig: sig}, nil
}

// Address returns the network address this signed spend must be stored at.
func (ss *SignedSpend) Address() SpendAddress { return ss.Spend.Address() }

// IsGenesis reports whether this is the genesis spend: the only spend with
// no parent transaction inputs, exempt from ancestry checks.
func (ss *SignedSpend) IsGenesis() bool { return len(ss.Spend.ParentTx.Inputs) == 0 }

// ToBytes returns the full canonical byte form, signature included. Used
// for equality and persistence.
func (ss *SignedSpend) ToBytes() []byte {
	b := ss.Spend.ToBytesForSigning()
	return append(b, ss.DerivedKeySig...)
}

// Equal reports whether two signed spends are byte-identical.
func (ss *SignedSpend) Equal(other *SignedSpend) bool {
	if ss == nil || other == nil {
		return ss == other
	}
	return bytes.Equal(ss.ToBytes(), other.ToBytes())
}

// Verify checks the spend is signed by the key that owns its cash note.
// It does not check the spend's ancestry; see VerifyAgainstAncestors.
func (ss *SignedSpend) Verify() error {
	if !BLSVerify(ss.Spend.UniquePubkey, ss.Spend.ToBytesForSigning(), ss.DerivedKeySig) {
		return fmt.Errorf("invalid signature on spend at %s", ss.Address().Name)
	}
	return nil
}

// VerifyAgainstAncestors checks the spend's signature and its arithmetic
// against its direct ancestors: every ancestor must assign an output to
// this cash note, and those outputs must sum to the spend's amount.
func (ss *SignedSpend) VerifyAgainstAncestors(ancestors []*SignedSpend) error {
	if err := ss.Verify(); err != nil {
		return err
	}

	var totalInputs uint64
	for _, ancestor := range ancestors {
		amount, ok := ancestor.Spend.SpentTx.OutputAmount(ss.Spend.UniquePubkey)
		if !ok {
			return fmt.Errorf("ancestor %s does not list spend %s as an output",
				ancestor.Address().Name, ss.Address().Name)
		}
		totalInputs += amount
	}
	if totalInputs != ss.Spend.Amount {
		return fmt.Errorf("spend %s amount %d does not match ancestor outputs total %d",
			ss.Address().Name, ss.Spend.Amount, totalInputs)
	}
	return nil
}

func writeUint(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint(buf, uint64(len(b)))
	buf.Write(b)
}
