package adapter

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/types"
)

type fakeBitcoinSource struct {
	txs     []*BitcoinRawTransaction
	balance *big.Int
	err     error
}

func (s *fakeBitcoinSource) FetchTransactions(_ context.Context, _ string) ([]*BitcoinRawTransaction, error) {
	return s.txs, s.err
}

func (s *fakeBitcoinSource) FetchBalance(_ context.Context, _ string) (*big.Int, error) {
	return s.balance, s.err
}

func btcAddr(s string) *string { return &s }

func simpleSpend(from, to, change string, inputSat, sendSat, changeSat int64) *BitcoinRawTransaction {
	blockTime := int64(1700000000)
	return &BitcoinRawTransaction{
		TxID:          "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
		Hash:          "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
		Version:       2,
		VSize:         141,
		Weight:        561,
		Confirmations: 6,
		BlockTime:     &blockTime,
		Vin: []BitcoinVin{{
			TxID:     btcAddr("aa"),
			Sequence: 0xfffffffd,
			PrevOut:  &BitcoinPrevOut{ValueSat: inputSat, Address: &from},
		}},
		Vout: []BitcoinVout{
			{ValueSat: sendSat, N: 0, ScriptPubKey: BitcoinScriptPubKey{Type: "witness_v0_keyhash", Address: &to}},
			{ValueSat: changeSat, N: 1, ScriptPubKey: BitcoinScriptPubKey{Type: "witness_v0_keyhash", Address: &change}},
		},
	}
}

func TestBitcoinTransformTransaction(t *testing.T) {
	adapter := NewBitcoinAdapter(&fakeBitcoinSource{})
	userAddr := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	dest := "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

	t.Run("spend with change", func(t *testing.T) {
		raw := simpleSpend(userAddr, dest, userAddr, 100_000_000, 60_000_000, 39_990_000)
		tx, err := adapter.TransformTransaction(raw, []string{userAddr})
		require.NoError(t, err)

		assert.Equal(t, types.ChainBitcoin, tx.Chain)
		assert.Equal(t, "bitcoin:"+raw.TxID, tx.ID)
		assert.Equal(t, types.StatusConfirmed, tx.Status)
		require.Len(t, tx.Transfers, 2)

		// fee = inputs - outputs = 10000 sat
		assert.Equal(t, "10000", tx.Fee.Amount.Raw)
		assert.Equal(t, "0.0001", tx.Fee.Amount.Formatted)
		assert.Equal(t, userAddr, tx.Fee.Payer)

		// change back to the sender keeps the payment outgoing
		assert.Equal(t, types.DirectionOutgoing, tx.Direction)

		assert.Equal(t, types.TransferNative, tx.Transfers[0].TransferType)
		assert.Equal(t, "60000000", tx.Transfers[0].Amount.Raw)
		assert.Equal(t, dest, tx.Transfers[0].To)

		require.NotNil(t, tx.ChainSpecific.Bitcoin)
		assert.True(t, tx.ChainSpecific.Bitcoin.IsRBF)
	})

	t.Run("incoming payment", func(t *testing.T) {
		sender := "bc1qc7slrfxkknqcq2jevvvkdgvrt8080852dfjewde450xdlk4ugp7szw5tk9"
		raw := simpleSpend(sender, userAddr, sender, 100_000_000, 50_000_000, 49_990_000)
		tx, err := adapter.TransformTransaction(raw, []string{userAddr})
		require.NoError(t, err)
		assert.Equal(t, types.DirectionIncoming, tx.Direction)
	})

	t.Run("multi-input spend where the user's input is not first", func(t *testing.T) {
		other := "bc1qc7slrfxkknqcq2jevvvkdgvrt8080852dfjewde450xdlk4ugp7szw5tk9"
		raw := simpleSpend(userAddr, dest, userAddr, 60_000_000, 90_000_000, 9_990_000)
		// another party's input sorts ahead of the user's
		raw.Vin = []BitcoinVin{
			{TxID: btcAddr("aa"), Sequence: 0xfffffffd, PrevOut: &BitcoinPrevOut{ValueSat: 40_000_000, Address: &other}},
			{TxID: btcAddr("bb"), Sequence: 0xfffffffd, PrevOut: &BitcoinPrevOut{ValueSat: 60_000_000, Address: &userAddr}},
		}
		tx, err := adapter.TransformTransaction(raw, []string{userAddr})
		require.NoError(t, err)

		assert.Equal(t, types.DirectionOutgoing, tx.Direction)
		require.Len(t, tx.Transfers, 2)
		assert.Equal(t, userAddr, tx.Transfers[0].From)
		assert.Equal(t, userAddr, tx.Fee.Payer)
	})

	t.Run("coinbase pays no fee", func(t *testing.T) {
		coinbase := "04ffff001d0104"
		raw := &BitcoinRawTransaction{
			TxID:          "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
			Confirmations: 100,
			Vin:           []BitcoinVin{{Coinbase: &coinbase, Sequence: 0xffffffff}},
			Vout: []BitcoinVout{
				{ValueSat: 5_000_000_000, N: 0, ScriptPubKey: BitcoinScriptPubKey{Type: "pubkey", Address: &userAddr}},
			},
		}
		tx, err := adapter.TransformTransaction(raw, []string{userAddr})
		require.NoError(t, err)
		assert.Equal(t, "0", tx.Fee.Amount.Raw)
		assert.False(t, tx.NeedsReview)
		assert.Equal(t, types.DirectionIncoming, tx.Direction)
		require.Len(t, tx.Transfers, 1)
		assert.Equal(t, "coinbase", tx.Transfers[0].From)
	})

	t.Run("outputs exceeding inputs is a parse error", func(t *testing.T) {
		raw := simpleSpend(userAddr, dest, userAddr, 1_000, 60_000_000, 39_990_000)
		_, err := adapter.TransformTransaction(raw, []string{userAddr})
		require.Error(t, err)
		assert.True(t, apperrors.IsParseError(err))
	})

	t.Run("unresolved inputs flag the transaction for review", func(t *testing.T) {
		raw := simpleSpend(userAddr, dest, userAddr, 100_000_000, 60_000_000, 39_990_000)
		raw.Vin[0].PrevOut = nil
		tx, err := adapter.TransformTransaction(raw, []string{userAddr})
		require.NoError(t, err)
		assert.True(t, tx.NeedsReview)
		assert.Equal(t, "0", tx.Fee.Amount.Raw)
	})

	t.Run("op_return outputs are skipped", func(t *testing.T) {
		raw := simpleSpend(userAddr, dest, userAddr, 100_000_000, 60_000_000, 39_990_000)
		raw.Vout = append(raw.Vout, BitcoinVout{ValueSat: 0, N: 2, ScriptPubKey: BitcoinScriptPubKey{Type: "nulldata"}})
		tx, err := adapter.TransformTransaction(raw, []string{userAddr})
		require.NoError(t, err)
		assert.Len(t, tx.Transfers, 2)
	})

	t.Run("wrong raw type is rejected", func(t *testing.T) {
		_, err := adapter.TransformTransaction("not a transaction", nil)
		require.Error(t, err)
		var adapterErr *AdapterError
		require.ErrorAs(t, err, &adapterErr)
		assert.ErrorIs(t, err, ErrInvalidTransaction)
	})
}

func TestBitcoinGetTransactions(t *testing.T) {
	userAddr := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	dest := "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

	t.Run("malformed transaction does not abort the batch", func(t *testing.T) {
		good := simpleSpend(userAddr, dest, userAddr, 100_000_000, 60_000_000, 39_990_000)
		bad := simpleSpend(userAddr, dest, userAddr, 1_000, 60_000_000, 39_990_000)
		bad.TxID = "deadbeef"

		adapter := NewBitcoinAdapter(&fakeBitcoinSource{txs: []*BitcoinRawTransaction{good, bad}})
		txs, err := adapter.GetTransactions(context.Background(), userAddr, []string{userAddr})
		require.NoError(t, err)
		require.Len(t, txs, 2)

		assert.Equal(t, types.StatusConfirmed, txs[0].Status)
		assert.Equal(t, types.StatusFailed, txs[1].Status)
		assert.Empty(t, txs[1].Transfers)
		assert.True(t, txs[1].NeedsReview)
		assert.Contains(t, txs[1].Tags, "parse_error")
	})

	t.Run("source failure is a network error", func(t *testing.T) {
		adapter := NewBitcoinAdapter(&fakeBitcoinSource{err: fmt.Errorf("connection refused")})
		_, err := adapter.GetTransactions(context.Background(), userAddr, []string{userAddr})
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
	})

	t.Run("invalid address is rejected before fetching", func(t *testing.T) {
		adapter := NewBitcoinAdapter(&fakeBitcoinSource{})
		_, err := adapter.GetTransactions(context.Background(), "not-an-address", nil)
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})
}

func TestBitcoinValidateAddress(t *testing.T) {
	adapter := NewBitcoinAdapter(&fakeBitcoinSource{})

	assert.True(t, adapter.ValidateAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"))
	assert.True(t, adapter.ValidateAddress("3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy"))
	assert.True(t, adapter.ValidateAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"))
	assert.False(t, adapter.ValidateAddress(""))
	assert.False(t, adapter.ValidateAddress("0x1111111111111111111111111111111111111111"))
	assert.False(t, adapter.ValidateAddress("1InvalidChecksum0OIl"))
}

// Fee conservation: for any spend whose single input covers all outputs,
// the computed fee is exactly input minus outputs and the transfers carry
// exactly the addressed output values.
func TestBitcoinFeeConservationProperty(t *testing.T) {
	adapter := NewBitcoinAdapter(&fakeBitcoinSource{})
	from := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	dest := "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

	properties := gopter.NewProperties(nil)

	properties.Property("fee equals inputs minus outputs", prop.ForAll(
		func(outputs []int64, fee int64) bool {
			if len(outputs) == 0 {
				return true
			}
			var outSum int64
			vouts := make([]BitcoinVout, 0, len(outputs))
			for i, v := range outputs {
				outSum += v
				vouts = append(vouts, BitcoinVout{
					ValueSat:     v,
					N:            uint32(i),
					ScriptPubKey: BitcoinScriptPubKey{Type: "witness_v0_keyhash", Address: &dest},
				})
			}

			raw := &BitcoinRawTransaction{
				TxID:          "ab",
				Confirmations: 1,
				VSize:         200,
				Vin: []BitcoinVin{{
					Sequence: 0xffffffff,
					PrevOut:  &BitcoinPrevOut{ValueSat: outSum + fee, Address: &from},
				}},
				Vout: vouts,
			}

			tx, err := adapter.TransformTransaction(raw, []string{from})
			if err != nil {
				return false
			}
			if tx.Fee.Amount.Raw != fmt.Sprintf("%d", fee) {
				return false
			}
			var transferred int64
			for _, tr := range tx.Transfers {
				v, err := tr.Amount.RawInt()
				if err != nil {
					return false
				}
				transferred += v.Int64()
			}
			return transferred == outSum
		},
		gen.SliceOfN(3, gen.Int64Range(1, 1_000_000_000)),
		gen.Int64Range(0, 500_000),
	))

	properties.TestingRun(t)
}
