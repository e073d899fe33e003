package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetEqual(t *testing.T) {
	t.Run("native assets match on chain", func(t *testing.T) {
		a := NewNativeAsset(ChainEthereum, "ETH", "Ether", 18)
		b := NewNativeAsset(ChainEthereum, "ETH", "Ether", 18)
		assert.True(t, a.Equal(b))
	})

	t.Run("native assets on different chains differ", func(t *testing.T) {
		a := NewNativeAsset(ChainEthereum, "ETH", "Ether", 18)
		b := NewNativeAsset(ChainArbitrum, "ETH", "Ether", 18)
		assert.False(t, a.Equal(b))
	})

	t.Run("token contract comparison is case-insensitive", func(t *testing.T) {
		a := NewTokenAsset(ChainEthereum, "USDC", "USD Coin", 6, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
		b := NewTokenAsset(ChainEthereum, "USDC", "USD Coin", 6, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
		assert.True(t, a.Equal(b))
	})

	t.Run("symbol differences do not affect identity", func(t *testing.T) {
		a := NewTokenAsset(ChainEthereum, "USDT", "Tether", 6, "0xdac17f958d2ee523a2206206994597c13d831ec7")
		b := NewTokenAsset(ChainEthereum, "USDT-OLD", "Tether USD", 6, "0xdac17f958d2ee523a2206206994597c13d831ec7")
		assert.True(t, a.Equal(b))
	})

	t.Run("native never equals token with same symbol", func(t *testing.T) {
		a := NewNativeAsset(ChainEthereum, "ETH", "Ether", 18)
		b := NewTokenAsset(ChainEthereum, "ETH", "Wrapped Ether", 18, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
		assert.False(t, a.Equal(b))
	})

	t.Run("nft identity includes token id", func(t *testing.T) {
		a := NewTokenAsset(ChainEthereum, "BAYC", "Bored Ape", 0, "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d")
		b := a
		id1, id2 := "1", "2"
		a.TokenID = &id1
		b.TokenID = &id2
		assert.False(t, a.Equal(b))
	})
}

func TestAssetKey(t *testing.T) {
	native := NewNativeAsset(ChainBitcoin, "BTC", "Bitcoin", 8)
	assert.Equal(t, "bitcoin/native/", native.Key())

	token := NewTokenAsset(ChainEthereum, "USDC", "USD Coin", 6, "0xA0b86991c6218B36c1d19D4a2e9Eb0cE3606eB48")
	assert.Equal(t, "ethereum/0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48/", token.Key())

	id := "42"
	nft := token
	nft.TokenID = &id
	assert.Equal(t, "ethereum/0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48/42", nft.Key())
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		decimals uint8
		want     string
	}{
		{"one ether", "1000000000000000000", 18, "1"},
		{"fractional wei", "1500000000000000000", 18, "1.5"},
		{"sub-unit value", "1", 18, "0.000000000000000001"},
		{"zero", "0", 18, "0"},
		{"zero decimals", "12345", 0, "12345"},
		{"trailing zeros trimmed", "1230000", 6, "1.23"},
		{"one satoshi", "1", 8, "0.00000001"},
		{"negative", "-1500000", 6, "-1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tc.raw, 10)
			require.True(t, ok)
			assert.Equal(t, tc.want, FormatUnits(raw, tc.decimals))
		})
	}
}

func TestParseRaw(t *testing.T) {
	t.Run("accepts decimal integers", func(t *testing.T) {
		v, err := ParseRaw("123456789")
		require.NoError(t, err)
		assert.Equal(t, "123456789", v.String())
	})

	t.Run("accepts negative integers", func(t *testing.T) {
		v, err := ParseRaw("-42")
		require.NoError(t, err)
		assert.Equal(t, "-42", v.String())
	})

	t.Run("rejects floats", func(t *testing.T) {
		_, err := ParseRaw("1.5")
		assert.Error(t, err)
	})

	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseRaw("")
		assert.Error(t, err)
	})

	t.Run("rejects hex", func(t *testing.T) {
		_, err := ParseRaw("0xff")
		assert.Error(t, err)
	})
}

func TestTaxCategoryClassification(t *testing.T) {
	disposals := []TaxCategory{CategorySale, CategorySwap, CategoryNFTSale, CategoryPaymentSent}
	for _, c := range disposals {
		assert.True(t, c.IsDisposal(), "expected %s to be a disposal", c)
		assert.False(t, c.IsIncome(), "expected %s not to be income", c)
	}

	income := []TaxCategory{CategoryAirdrop, CategoryStakingReward, CategoryMiningReward, CategoryDeFiYield, CategorySalary}
	for _, c := range income {
		assert.True(t, c.IsIncome(), "expected %s to be income", c)
		assert.False(t, c.IsDisposal(), "expected %s not to be a disposal", c)
	}

	acquisitions := []TaxCategory{CategoryPurchase, CategoryGiftReceived}
	for _, c := range acquisitions {
		assert.True(t, c.IsAcquisition(), "expected %s to be an acquisition", c)
		assert.False(t, c.IsDisposal())
		assert.False(t, c.IsIncome())
	}

	neutral := []TaxCategory{CategoryTransfer, CategoryDeposit, CategoryWithdrawal, CategoryUnknown}
	for _, c := range neutral {
		assert.False(t, c.IsDisposal())
		assert.False(t, c.IsIncome())
		assert.False(t, c.IsAcquisition())
	}
}

func newTestTransaction() UnifiedTransaction {
	eth := NewNativeAsset(ChainEthereum, "ETH", "Ether", 18)
	return UnifiedTransaction{
		ID:        "ethereum:0xabc",
		Chain:     ChainEthereum,
		Hash:      "0xabc",
		Status:    StatusConfirmed,
		Direction: DirectionOutgoing,
		Transfers: []Transfer{
			{
				ID:           "t0",
				From:         "0x1111111111111111111111111111111111111111",
				To:           "0x2222222222222222222222222222222222222222",
				Amount:       Amount{Asset: eth, Raw: "1000000000000000000", Formatted: "1"},
				TransferType: TransferNative,
			},
		},
		Fee: Fee{
			Amount: Amount{Asset: eth, Raw: "21000000000000", Formatted: "0.000021"},
			Payer:  "0x1111111111111111111111111111111111111111",
		},
	}
}

func TestInvolvesAddress(t *testing.T) {
	tx := newTestTransaction()

	assert.True(t, tx.InvolvesAddress("0x1111111111111111111111111111111111111111"))
	assert.True(t, tx.InvolvesAddress("0X2222222222222222222222222222222222222222"))
	assert.False(t, tx.InvolvesAddress("0x3333333333333333333333333333333333333333"))
}

func TestAllAddresses(t *testing.T) {
	tx := newTestTransaction()
	tx.Transfers = append(tx.Transfers, Transfer{
		ID:   "t1",
		From: "0x2222222222222222222222222222222222222222",
		To:   "0x1111111111111111111111111111111111111111",
	})

	addrs := tx.AllAddresses()
	assert.Len(t, addrs, 2, "addresses should be deduplicated")
}

func TestIsTaxable(t *testing.T) {
	tx := newTestTransaction()

	assert.False(t, tx.IsTaxable(), "uncategorized transactions are not taxable")

	transfer := CategoryTransfer
	tx.TaxCategory = &transfer
	assert.False(t, tx.IsTaxable())

	swap := CategorySwap
	tx.TaxCategory = &swap
	assert.True(t, tx.IsTaxable())

	staking := CategoryStakingReward
	tx.TaxCategory = &staking
	assert.True(t, tx.IsTaxable())
}

func TestChainSpecificDataRoundTrip(t *testing.T) {
	t.Run("bitcoin variant", func(t *testing.T) {
		addr := "bc1qxyz"
		val := "5000000000"
		in := ChainSpecificData{Bitcoin: &BitcoinData{
			Inputs:  []BitcoinInput{{TxID: "aa", Vout: 1, Sequence: 0xfffffffd, Address: &addr, Value: &val}},
			Outputs: []BitcoinOutput{{N: 0, Value: "4999990000", ScriptPubKey: "0014ab", Address: &addr, OutputType: "witness_v0_keyhash"}},
			Version: 2,
			VSize:   141,
			Weight:  561,
			IsRBF:   true,
		}}

		data, err := json.Marshal(in)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"family":"bitcoin"`)

		var out ChainSpecificData
		require.NoError(t, json.Unmarshal(data, &out))
		require.NotNil(t, out.Bitcoin)
		assert.Nil(t, out.Ethereum)
		assert.Equal(t, in.Bitcoin, out.Bitcoin)
	})

	t.Run("ethereum variant", func(t *testing.T) {
		to := "0x2222222222222222222222222222222222222222"
		in := ChainSpecificData{Ethereum: &EthereumData{
			From:              "0x1111111111111111111111111111111111111111",
			To:                &to,
			Value:             "0",
			GasLimit:          "90000",
			GasUsed:           "52341",
			EffectiveGasPrice: "12000000000",
			TxType:            2,
			Nonce:             7,
			Input:             "0xa9059cbb",
			Logs: []EthereumLog{{
				LogIndex: 3,
				Address:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
				Topics:   []string{"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"},
				Data:     "0x01",
			}},
		}}

		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out ChainSpecificData
		require.NoError(t, json.Unmarshal(data, &out))
		require.NotNil(t, out.Ethereum)
		assert.Equal(t, in.Ethereum, out.Ethereum)
	})

	t.Run("solana variant", func(t *testing.T) {
		cu := uint64(4500)
		in := ChainSpecificData{Solana: &SolanaData{
			Signatures:           []string{"5j7sig"},
			RecentBlockhash:      "9sHcBlock",
			FeePayer:             "7Np4Payer",
			AccountKeys:          []string{"7Np4Payer", "9xQeDest"},
			PreBalances:          []string{"1000000000", "0"},
			PostBalances:         []string{"994995000", "5000000"},
			ComputeUnitsConsumed: &cu,
		}}

		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out ChainSpecificData
		require.NoError(t, json.Unmarshal(data, &out))
		require.NotNil(t, out.Solana)
		assert.Equal(t, in.Solana, out.Solana)
	})

	t.Run("empty union marshals as generic", func(t *testing.T) {
		var in ChainSpecificData
		data, err := json.Marshal(in)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"family":"generic"`)

		var out ChainSpecificData
		require.NoError(t, json.Unmarshal(data, &out))
		assert.NotNil(t, out.Generic)
	})

	t.Run("unknown family is rejected", func(t *testing.T) {
		var out ChainSpecificData
		err := json.Unmarshal([]byte(`{"family":"cardano","data":{}}`), &out)
		assert.Error(t, err)
	})
}
