package tax

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-ledger/internal/types"
)

type fakeSuggester struct {
	suggestion Suggestion
	err        error
	calls      int
}

func (f *fakeSuggester) SuggestCategory(_ context.Context, _ *types.UnifiedTransaction, _ []string) (Suggestion, error) {
	f.calls++
	return f.suggestion, f.err
}

func directionTx(direction types.TransactionDirection) *types.UnifiedTransaction {
	return &types.UnifiedTransaction{
		Chain:     types.ChainEthereum,
		Hash:      "0xabc",
		Status:    types.StatusConfirmed,
		Direction: direction,
	}
}

func TestCategorizeDirectionRules(t *testing.T) {
	c := NewCategorizer(CategorizerConfig{})

	cases := []struct {
		direction types.TransactionDirection
		want      types.TaxCategory
	}{
		{types.DirectionSwap, types.CategorySwap},
		{types.DirectionSelf, types.CategoryTransfer},
		{types.DirectionContract, types.CategoryFee},
		{types.DirectionOutgoing, types.CategoryPaymentSent},
		{types.DirectionIncoming, types.CategoryUnknown},
	}
	for _, tc := range cases {
		t.Run(string(tc.direction), func(t *testing.T) {
			tx := directionTx(tc.direction)
			c.Categorize(context.Background(), tx, nil)
			require.NotNil(t, tx.TaxCategory)
			assert.Equal(t, tc.want, *tx.TaxCategory)
			require.NotNil(t, tx.TaxCategoryConfidence)
		})
	}
}

func TestCategorizeFailedTransactionIsFeeOnly(t *testing.T) {
	c := NewCategorizer(CategorizerConfig{})
	tx := directionTx(types.DirectionOutgoing)
	tx.Status = types.StatusFailed

	c.Categorize(context.Background(), tx, nil)
	require.NotNil(t, tx.TaxCategory)
	assert.Equal(t, types.CategoryFee, *tx.TaxCategory)
}

func TestCategorizeKnownContractWins(t *testing.T) {
	staking := "0xStakingPool00000000000000000000000000000001"
	c := NewCategorizer(CategorizerConfig{
		KnownContracts: map[string]types.TaxCategory{
			staking: types.CategoryStakingReward,
		},
	})
	tx := directionTx(types.DirectionIncoming)
	tx.ContractInteractions = []types.ContractInteraction{{Address: staking}}

	c.Categorize(context.Background(), tx, nil)
	require.NotNil(t, tx.TaxCategory)
	assert.Equal(t, types.CategoryStakingReward, *tx.TaxCategory)
	assert.Equal(t, 0.85, *tx.TaxCategoryConfidence)
}

func TestCategorizePreservesUserOverride(t *testing.T) {
	c := NewCategorizer(CategorizerConfig{})
	gift := types.CategoryGiftSent
	tx := directionTx(types.DirectionOutgoing)
	tx.TaxCategory = &gift

	c.Categorize(context.Background(), tx, nil)
	assert.Equal(t, types.CategoryGiftSent, *tx.TaxCategory)
	assert.Nil(t, tx.TaxCategoryConfidence)
}

func TestCategorizeSuggester(t *testing.T) {
	t.Run("agreement raises confidence", func(t *testing.T) {
		s := &fakeSuggester{suggestion: Suggestion{Category: types.CategorySwap, Confidence: 0.99}}
		c := NewCategorizer(CategorizerConfig{Suggester: s})
		tx := directionTx(types.DirectionSwap)

		c.Categorize(context.Background(), tx, nil)
		assert.Equal(t, types.CategorySwap, *tx.TaxCategory)
		assert.Equal(t, 0.99, *tx.TaxCategoryConfidence)
		assert.Equal(t, 1, s.calls)
	})

	t.Run("agreement never lowers confidence", func(t *testing.T) {
		s := &fakeSuggester{suggestion: Suggestion{Category: types.CategorySwap, Confidence: 0.1}}
		c := NewCategorizer(CategorizerConfig{Suggester: s})
		tx := directionTx(types.DirectionSwap)

		c.Categorize(context.Background(), tx, nil)
		assert.Equal(t, 0.9, *tx.TaxCategoryConfidence)
	})

	t.Run("disagreement keeps rule category and records the suggestion", func(t *testing.T) {
		s := &fakeSuggester{suggestion: Suggestion{Category: types.CategoryAirdrop, Confidence: 0.95}}
		c := NewCategorizer(CategorizerConfig{Suggester: s})
		tx := directionTx(types.DirectionIncoming)

		c.Categorize(context.Background(), tx, nil)
		assert.Equal(t, types.CategoryUnknown, *tx.TaxCategory)
		assert.Contains(t, tx.Tags, "suggested:airdrop")
	})

	t.Run("suggester failure is non-fatal", func(t *testing.T) {
		s := &fakeSuggester{err: errors.New("service down")}
		c := NewCategorizer(CategorizerConfig{Suggester: s})
		tx := directionTx(types.DirectionSwap)

		c.Categorize(context.Background(), tx, nil)
		assert.Equal(t, types.CategorySwap, *tx.TaxCategory)
	})
}
