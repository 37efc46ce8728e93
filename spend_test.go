package xordrive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedlt/xordrive"
	"github.com/edgedlt/xordrive/internal/testutil"
)

func TestSignSpend_RejectsForeignKeyPair(t *testing.T) {
	owner := testutil.KeyPair()
	stranger := testutil.KeyPair()

	spend := xordrive.Spend{UniquePubkey: owner.PublicKey, Amount: 10}
	_, err := xordrive.SignSpend(spend, stranger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not own")
}

func TestSignedSpend_Verify(t *testing.T) {
	chain := testutil.NewSpendChain(1, 50)
	genesis := chain.Spends[0]

	assert.NoError(t, genesis.Verify())

	tampered := *genesis
	tampered.Spend.Amount = 999
	assert.Error(t, tampered.Verify())
}

func TestSignedSpend_Equal(t *testing.T) {
	chain := testutil.NewSpendChain(2, 50)

	assert.True(t, chain.Spends[0].Equal(chain.Spends[0]))
	assert.False(t, chain.Spends[0].Equal(chain.Spends[1]))
	assert.False(t, chain.Spends[0].Equal(nil))
}

func TestSignedSpend_IsGenesis(t *testing.T) {
	chain := testutil.NewSpendChain(2, 50)

	assert.True(t, chain.Spends[0].IsGenesis())
	assert.False(t, chain.Spends[1].IsGenesis())
}

func TestSignedSpend_VerifyAgainstAncestors(t *testing.T) {
	chain := testutil.NewSpendChain(3, 100)

	t.Run("valid chain", func(t *testing.T) {
		err := chain.Spends[1].VerifyAgainstAncestors([]*xordrive.SignedSpend{chain.Spends[0]})
		assert.NoError(t, err)
		err = chain.Spends[2].VerifyAgainstAncestors([]*xordrive.SignedSpend{chain.Spends[1]})
		assert.NoError(t, err)
	})

	t.Run("ancestor without matching output", func(t *testing.T) {
		// Spends[2] is not an output of the genesis transaction.
		err := chain.Spends[2].VerifyAgainstAncestors([]*xordrive.SignedSpend{chain.Spends[0]})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not list spend")
	})

	t.Run("amount mismatch", func(t *testing.T) {
		// A validly signed spend claiming more than its ancestors assigned.
		kp := chain.KeyPairs[1]
		inflated, err := xordrive.SignSpend(xordrive.Spend{
			UniquePubkey: kp.PublicKey,
			Amount:       150,
			ParentTx:     chain.Spends[0].Spend.SpentTx,
			SpentTx: xordrive.Transaction{
				Inputs:  []xordrive.Input{{UniquePubkey: kp.PublicKey, Amount: 150}},
				Outputs: []xordrive.Output{{UniquePubkey: chain.KeyPairs[2].PublicKey, Amount: 150}},
			},
		}, kp)
		require.NoError(t, err)

		err = inflated.VerifyAgainstAncestors([]*xordrive.SignedSpend{chain.Spends[0]})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match ancestor outputs total")
	})
}

func TestSpend_Addresses(t *testing.T) {
	chain := testutil.NewSpendChain(2, 100)
	s1 := chain.Spends[1]

	assert.Equal(t, xordrive.SpendAddressFromPubkey(s1.Spend.UniquePubkey), s1.Address())

	ancestors := s1.Spend.AncestorAddresses()
	require.Len(t, ancestors, 1)
	assert.Equal(t, chain.Spends[0].Address(), ancestors[0])

	descendants := s1.Spend.DescendantAddresses()
	require.Len(t, descendants, 1)
	assert.Equal(t, xordrive.SpendAddressFromPubkey(chain.KeyPairs[2].PublicKey), descendants[0])
}

func TestTransaction_OutputAmount(t *testing.T) {
	kp := testutil.KeyPair()
	tx := xordrive.Transaction{
		Outputs: []xordrive.Output{{UniquePubkey: kp.PublicKey, Amount: 42}},
	}

	amount, ok := tx.OutputAmount(kp.PublicKey)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), amount)

	_, ok = tx.OutputAmount([]byte("unknown"))
	assert.False(t, ok)
}

func TestTransaction_HashIsContentSensitive(t *testing.T) {
	kp := testutil.KeyPair()
	tx := xordrive.Transaction{
		Outputs: []xordrive.Output{{UniquePubkey: kp.PublicKey, Amount: 1}},
	}
	other := xordrive.Transaction{
		Outputs: []xordrive.Output{{UniquePubkey: kp.PublicKey, Amount: 2}},
	}

	assert.Equal(t, tx.Hash(), tx.Hash())
	assert.NotEqual(t, tx.Hash(), other.Hash())
}
