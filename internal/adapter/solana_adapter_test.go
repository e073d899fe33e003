package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/types"
)

type fakeSolanaSource struct {
	txs     []*SolanaRawTransaction
	balance *big.Int
	err     error
}

func (s *fakeSolanaSource) FetchTransactions(_ context.Context, _ string) ([]*SolanaRawTransaction, error) {
	return s.txs, s.err
}

func (s *fakeSolanaSource) FetchBalance(_ context.Context, _ string) (*big.Int, error) {
	return s.balance, s.err
}

const (
	solPayer = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	solDest  = "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func solTransfer() *SolanaRawTransaction {
	blockTime := int64(1700000000)
	cu := uint64(450)
	return &SolanaRawTransaction{
		Slot:      250_000_000,
		BlockTime: &blockTime,
		Transaction: SolanaRawDetails{
			Signatures: []string{"5j7sXyz"},
			Message: SolanaRawMessage{
				AccountKeys:     []string{solPayer, solDest, "11111111111111111111111111111111"},
				RecentBlockhash: "9sHcv6xwn9YkB8nxTUGKDwPwNnmqfp7SDdWtoGhRiSjmnot",
				Instructions: []SolanaRawInstruction{{
					ProgramIDIndex: 2,
					Accounts:       []uint32{0, 1},
					Data:           "3Bxs411Dtc7pkFQj",
				}},
			},
		},
		Meta: &SolanaRawMeta{
			Fee:                  5000,
			PreBalances:          []uint64{1_000_000_000, 0, 1},
			PostBalances:         []uint64{994_995_000, 5_000_000, 1},
			ComputeUnitsConsumed: &cu,
		},
	}
}

func TestSolanaTransformTransaction(t *testing.T) {
	adapter := NewSolanaAdapter(&fakeSolanaSource{}, NewStaticTokenRegistry())

	t.Run("native transfer from balance deltas", func(t *testing.T) {
		tx, err := adapter.TransformTransaction(solTransfer(), []string{solPayer})
		require.NoError(t, err)

		assert.Equal(t, types.ChainSolana, tx.Chain)
		assert.Equal(t, types.StatusConfirmed, tx.Status)
		assert.Equal(t, types.DirectionOutgoing, tx.Direction)

		require.Len(t, tx.Transfers, 1)
		assert.Equal(t, solPayer, tx.Transfers[0].From)
		assert.Equal(t, solDest, tx.Transfers[0].To)
		// 5,000,000 lamports, fee excluded from the transfer
		assert.Equal(t, "5000000", tx.Transfers[0].Amount.Raw)
		assert.Equal(t, "0.005", tx.Transfers[0].Amount.Formatted)

		assert.Equal(t, "5000", tx.Fee.Amount.Raw)
		assert.Equal(t, solPayer, tx.Fee.Payer)
		assert.Empty(t, tx.Fee.FeeRate, "flat lamport fee carries no rate")

		require.NotNil(t, tx.ChainSpecific.Solana)
		assert.Equal(t, solPayer, tx.ChainSpecific.Solana.FeePayer)
		require.NotNil(t, tx.ChainSpecific.Solana.ComputeUnitsConsumed)
		assert.Equal(t, uint64(450), *tx.ChainSpecific.Solana.ComputeUnitsConsumed)
	})

	t.Run("failed transaction keeps the fee and drops transfers", func(t *testing.T) {
		raw := solTransfer()
		raw.Meta.Err = json.RawMessage(`{"InstructionError":[0,"Custom"]}`)

		tx, err := adapter.TransformTransaction(raw, []string{solPayer})
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, tx.Status)
		assert.Empty(t, tx.Transfers)
		assert.Equal(t, "5000", tx.Fee.Amount.Raw)
	})

	t.Run("spl token transfer from token balance diffs", func(t *testing.T) {
		raw := solTransfer()
		// no net lamport movement beyond the fee
		raw.Meta.PreBalances = []uint64{1_000_000_000, 0, 1}
		raw.Meta.PostBalances = []uint64{999_995_000, 0, 1}
		raw.Meta.PreTokenBalances = []SolanaRawTokenBalance{
			{AccountIndex: 1, Mint: usdcMint, Owner: solPayer, UITokenAmount: SolanaRawTokenAmount{Amount: "25000000", Decimals: 6}},
		}
		raw.Meta.PostTokenBalances = []SolanaRawTokenBalance{
			{AccountIndex: 1, Mint: usdcMint, Owner: solPayer, UITokenAmount: SolanaRawTokenAmount{Amount: "0", Decimals: 6}},
			{AccountIndex: 2, Mint: usdcMint, Owner: solDest, UITokenAmount: SolanaRawTokenAmount{Amount: "25000000", Decimals: 6}},
		}

		tx, err := adapter.TransformTransaction(raw, []string{solPayer})
		require.NoError(t, err)
		require.Len(t, tx.Transfers, 1)

		tr := tx.Transfers[0]
		assert.Equal(t, types.TransferToken, tr.TransferType)
		assert.Equal(t, solPayer, tr.From)
		assert.Equal(t, solDest, tr.To)
		assert.Equal(t, "USDC", tr.Amount.Asset.Symbol)
		assert.Equal(t, "25000000", tr.Amount.Raw)
		assert.Equal(t, "25", tr.Amount.Formatted)
		assert.Equal(t, types.DirectionOutgoing, tx.Direction)
	})

	t.Run("unknown mint uses snapshot decimals", func(t *testing.T) {
		raw := solTransfer()
		raw.Meta.PreBalances = []uint64{1_000_000_000, 0, 1}
		raw.Meta.PostBalances = []uint64{999_995_000, 0, 1}
		mint := "BonkMint1111111111111111111111111111111111111"
		raw.Meta.PreTokenBalances = []SolanaRawTokenBalance{
			{AccountIndex: 1, Mint: mint, Owner: solPayer, UITokenAmount: SolanaRawTokenAmount{Amount: "500", Decimals: 5}},
		}
		raw.Meta.PostTokenBalances = []SolanaRawTokenBalance{
			{AccountIndex: 1, Mint: mint, Owner: solPayer, UITokenAmount: SolanaRawTokenAmount{Amount: "0", Decimals: 5}},
			{AccountIndex: 2, Mint: mint, Owner: solDest, UITokenAmount: SolanaRawTokenAmount{Amount: "500", Decimals: 5}},
		}

		tx, err := adapter.TransformTransaction(raw, []string{solPayer})
		require.NoError(t, err)
		require.Len(t, tx.Transfers, 1)
		assert.Equal(t, "UNKNOWN", tx.Transfers[0].Amount.Asset.Symbol)
		assert.Equal(t, uint8(5), tx.Transfers[0].Amount.Asset.Decimals)
	})

	t.Run("missing signatures is a parse error", func(t *testing.T) {
		raw := solTransfer()
		raw.Transaction.Signatures = nil
		_, err := adapter.TransformTransaction(raw, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsParseError(err))
	})
}

func TestSolanaGetTransactions(t *testing.T) {
	t.Run("parse failure yields a failed record", func(t *testing.T) {
		good := solTransfer()
		bad := solTransfer()
		bad.Transaction.Signatures = []string{"badsig"}
		bad.Transaction.Message.AccountKeys = nil

		adapter := NewSolanaAdapter(&fakeSolanaSource{txs: []*SolanaRawTransaction{good, bad}}, nil)
		txs, err := adapter.GetTransactions(context.Background(), solPayer, []string{solPayer})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, types.StatusFailed, txs[1].Status)
		assert.Empty(t, txs[1].Transfers)
	})

	t.Run("source failure surfaces as retryable", func(t *testing.T) {
		adapter := NewSolanaAdapter(&fakeSolanaSource{err: fmt.Errorf("rpc unavailable")}, nil)
		_, err := adapter.GetTransactions(context.Background(), solPayer, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
	})
}

func TestSolanaValidateAddress(t *testing.T) {
	adapter := NewSolanaAdapter(&fakeSolanaSource{}, nil)

	assert.True(t, adapter.ValidateAddress(solPayer))
	assert.True(t, adapter.ValidateAddress("11111111111111111111111111111111"))
	assert.True(t, adapter.ValidateAddress(usdcMint))
	assert.False(t, adapter.ValidateAddress(""))
	assert.False(t, adapter.ValidateAddress("0x1111111111111111111111111111111111111111"))
	assert.False(t, adapter.ValidateAddress("tooshort"))
}
