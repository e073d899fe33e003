package adapter

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chain-ledger/internal/types"
)

func transferOf(from, to string, asset types.Asset, raw int64) types.Transfer {
	return types.Transfer{
		From:   from,
		To:     to,
		Amount: types.NewAmount(asset, big.NewInt(raw)),
	}
}

func TestDetermineDirection(t *testing.T) {
	eth := types.NewNativeAsset(types.ChainEthereum, "ETH", "Ether", 18)
	usdc := types.NewTokenAsset(types.ChainEthereum, "USDC", "USD Coin", 6, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	user := newAddressSet([]string{"0xAAAA", "0xBBBB"})

	t.Run("no transfers is a contract interaction", func(t *testing.T) {
		assert.Equal(t, types.DirectionContract, determineDirection(nil, user))
	})

	t.Run("receiving only is incoming", func(t *testing.T) {
		transfers := []types.Transfer{transferOf("0xCCCC", "0xaaaa", eth, 100)}
		assert.Equal(t, types.DirectionIncoming, determineDirection(transfers, user))
	})

	t.Run("sending only is outgoing", func(t *testing.T) {
		transfers := []types.Transfer{transferOf("0xaaaa", "0xCCCC", eth, 100)}
		assert.Equal(t, types.DirectionOutgoing, determineDirection(transfers, user))
	})

	t.Run("movement between own addresses is self", func(t *testing.T) {
		transfers := []types.Transfer{transferOf("0xaaaa", "0xbbbb", eth, 100)}
		assert.Equal(t, types.DirectionSelf, determineDirection(transfers, user))
	})

	t.Run("different assets in and out is a swap", func(t *testing.T) {
		transfers := []types.Transfer{
			transferOf("0xaaaa", "0xCCCC", usdc, 1000),
			transferOf("0xCCCC", "0xaaaa", eth, 100),
		}
		assert.Equal(t, types.DirectionSwap, determineDirection(transfers, user))
	})

	t.Run("change in the same asset stays outgoing", func(t *testing.T) {
		transfers := []types.Transfer{
			transferOf("0xaaaa", "0xCCCC", eth, 100),
			transferOf("0xCCCC", "0xaaaa", eth, 40),
		}
		assert.Equal(t, types.DirectionOutgoing, determineDirection(transfers, user))
	})

	t.Run("zero-value transfers are ignored", func(t *testing.T) {
		transfers := []types.Transfer{
			transferOf("0xaaaa", "0xCCCC", eth, 0),
			transferOf("0xCCCC", "0xaaaa", usdc, 1000),
		}
		assert.Equal(t, types.DirectionIncoming, determineDirection(transfers, user))
	})

	t.Run("uninvolved movement is contract", func(t *testing.T) {
		transfers := []types.Transfer{transferOf("0xCCCC", "0xDDDD", eth, 100)}
		assert.Equal(t, types.DirectionContract, determineDirection(transfers, user))
	})
}

func TestFinalizeTransactionOrdering(t *testing.T) {
	eth := types.NewNativeAsset(types.ChainEthereum, "ETH", "Ether", 18)
	idx3, idx1 := uint32(3), uint32(1)

	tx := &types.UnifiedTransaction{
		Chain:  types.ChainEthereum,
		Hash:   "0xabc",
		Status: types.StatusConfirmed,
		Transfers: []types.Transfer{
			{LogIndex: &idx3, Amount: types.NewAmount(eth, big.NewInt(1))},
			{Amount: types.NewAmount(eth, big.NewInt(2))},
			{LogIndex: &idx1, Amount: types.NewAmount(eth, big.NewInt(3))},
		},
	}

	finalizeTransaction(tx, nil)

	assert.Equal(t, "ethereum:0xabc", tx.ID)
	// the synthesized native transfer sorts first, then log index order
	assert.Equal(t, "2", tx.Transfers[0].Amount.Raw)
	assert.Equal(t, "3", tx.Transfers[1].Amount.Raw)
	assert.Equal(t, "1", tx.Transfers[2].Amount.Raw)
	// positional IDs reproduce on every re-fetch of the same transaction
	assert.Equal(t, "ethereum:0xabc#0", tx.Transfers[0].ID)
	assert.Equal(t, "ethereum:0xabc#1", tx.Transfers[1].ID)
	assert.Equal(t, "ethereum:0xabc#2", tx.Transfers[2].ID)
	assert.NotZero(t, tx.CreatedAt)
	assert.NotZero(t, tx.UpdatedAt)
}

func TestFinalizeTransactionFlagsEmptyConfirmed(t *testing.T) {
	tx := &types.UnifiedTransaction{
		Chain:  types.ChainEthereum,
		Hash:   "0xdef",
		Status: types.StatusConfirmed,
	}
	finalizeTransaction(tx, nil)
	assert.True(t, tx.NeedsReview)
}
