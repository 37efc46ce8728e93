// BLS signatures over BLS12-381 with signatures in G1 and public keys in
// G2 (minimal signature variant). Spends and payment quotes are signed with
// these keys.

package xordrive

import (
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// BLS DST (Domain Separation Tag) for hash-to-curve
const blsDST = "BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"

// BLSPublicKeyLen is the byte length of a compressed G2 public key.
const BLSPublicKeyLen = 96

// BLSSignatureLen is the byte length of a compressed G1 signature.
const BLSSignatureLen = 48

// BLSKeyPair holds a BLS private/public key pair.
type BLSKeyPair struct {
	PrivateKey []byte // 32 bytes (fr.Element)
	PublicKey  []byte // 96 bytes (G2Affine compressed)
}

// GenerateBLSKeyPair generates a new BLS key pair.
func GenerateBLSKeyPair() (*BLSKeyPair, error) {
	var scalar fr.Element
	_, err := scalar.SetRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate random scalar: %w", err)
	}

	privBytes := scalar.Bytes()

	// Derive public key: pk = sk * G2
	_, _, _, g2Gen := bls12381.Generators()
	var pk bls12381.G2Affine
	pk.ScalarMultiplication(&g2Gen, scalar.BigInt(new(big.Int)))
	pubBytes := pk.Bytes()

	return &BLSKeyPair{
		PrivateKey: privBytes[:],
		PublicKey:  pubBytes[:],
	}, nil
}

// BLSSign signs a message using a BLS private key.
func BLSSign(privateKey []byte, message []byte) ([]byte, error) {
	var scalar fr.Element
	scalar.SetBytes(privateKey)

	// Hash message to G1, then sig = sk * H(m)
	hashPoint, err := bls12381.HashToG1(message, []byte(blsDST))
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	var sigJac bls12381.G1Jac
	sigJac.FromAffine(&hashPoint)
	sigJac.ScalarMultiplication(&sigJac, scalar.BigInt(new(big.Int)))

	var sig bls12381.G1Affine
	sig.FromJacobian(&sigJac)
	sigBytes := sig.Bytes()
	return sigBytes[:], nil
}

// BLSVerify verifies a signature against a public key and message.
func BLSVerify(publicKey []byte, message []byte, signature []byte) bool {
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(publicKey); err != nil {
		return false
	}

	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(signature); err != nil {
		return false
	}

	hashPoint, err := bls12381.HashToG1(message, []byte(blsDST))
	if err != nil {
		return false
	}

	// Verify: e(H(m), pk) == e(sig, G2)
	_, _, _, g2Gen := bls12381.Generators()

	left, err := bls12381.Pair([]bls12381.G1Affine{hashPoint}, []bls12381.G2Affine{pk})
	if err != nil {
		return false
	}

	right, err := bls12381.Pair([]bls12381.G1Affine{sig}, []bls12381.G2Affine{g2Gen})
	if err != nil {
		return false
	}

	return left.Equal(&right)
}
