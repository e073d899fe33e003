package tax

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-ledger/internal/types"
)

type fakeTransactionSource struct {
	txs []*types.UnifiedTransaction
}

func (f *fakeTransactionSource) GetInRange(_ context.Context, _ string, fromTs, toTs int64) ([]*types.UnifiedTransaction, error) {
	var out []*types.UnifiedTransaction
	for _, tx := range f.txs {
		if tx.Timestamp != nil && *tx.Timestamp >= fromTs && *tx.Timestamp < toTs {
			out = append(out, tx)
		}
	}
	return out, nil
}

func costBasisEntry(disposedAt int64, period types.HoldingPeriod, proceeds, cost, gain string) types.CostBasisInfo {
	return types.CostBasisInfo{
		Asset:         eth,
		Amount:        "1",
		CostBasisFiat: cost,
		ProceedsFiat:  proceeds,
		GainLoss:      gain,
		DisposedAt:    disposedAt,
		HoldingPeriod: period,
		Method:        types.MethodFIFO,
	}
}

func TestGenerateReport(t *testing.T) {
	// all timestamps inside calendar year 2024
	jan := int64(1_704_067_200) // 2024-01-01T00:00:00Z
	mid := jan + 180*86400

	sale := confirmedTx("tx-sale", types.CategorySale, mid)
	sale.CostBasis = []types.CostBasisInfo{
		costBasisEntry(mid, types.HoldingShort, "1200", "1000", "200"),
		costBasisEntry(mid, types.HoldingLong, "5000", "3000", "2000"),
	}

	reward := confirmedTx("tx-reward", types.CategoryStakingReward, mid, types.Transfer{
		ID:           "reward-0",
		From:         routerAddr,
		To:           userAddr,
		Amount:       enrichedAmount(t, eth, "1000000000000000000", "50"),
		TransferType: types.TransferNative,
	})

	uncategorized := &types.UnifiedTransaction{
		ID:        "tx-unknown",
		Chain:     types.ChainEthereum,
		Hash:      "0xunknown",
		Timestamp: &mid,
		Status:    types.StatusConfirmed,
	}

	prior := int64(1_672_531_200) // 2023-01-01, outside the window
	lastYear := confirmedTx("tx-old", types.CategorySale, prior)
	lastYear.CostBasis = []types.CostBasisInfo{
		costBasisEntry(prior, types.HoldingShort, "999", "999", "0"),
	}

	source := &fakeTransactionSource{txs: []*types.UnifiedTransaction{sale, reward, uncategorized, lastYear}}
	reporter := NewReporter(source, "USD")

	report, err := reporter.GenerateReport(context.Background(), ReportRequest{
		WalletID:  "w1",
		Addresses: []string{userAddr},
		Year:      2024,
		Method:    types.MethodFIFO,
	})
	require.NoError(t, err)

	assert.Equal(t, 2024, report.Year)
	assert.Equal(t, "USD", report.Currency)

	require.Len(t, report.ShortTerm.Entries, 1)
	assert.Equal(t, "1200", report.ShortTerm.TotalProceeds)
	assert.Equal(t, "1000", report.ShortTerm.TotalCostBasis)
	assert.Equal(t, "200", report.ShortTerm.TotalGainLoss)

	require.Len(t, report.LongTerm.Entries, 1)
	assert.Equal(t, "2000", report.LongTerm.TotalGainLoss)

	assert.Equal(t, "50", report.Income.Total)
	assert.Equal(t, "50", report.Income.ByCategory[types.CategoryStakingReward])

	assert.Equal(t, 3, report.Summary.TotalTransactions)
	assert.Equal(t, 1, report.Summary.UncategorizedTransactions)
	assert.Equal(t, "2200", report.Summary.NetGainLoss)
}

func TestGenerateReportEmptyYear(t *testing.T) {
	reporter := NewReporter(&fakeTransactionSource{}, "USD")
	report, err := reporter.GenerateReport(context.Background(), ReportRequest{
		WalletID: "w1",
		Year:     2024,
		Method:   types.MethodFIFO,
	})
	require.NoError(t, err)

	assert.Empty(t, report.ShortTerm.Entries)
	assert.Empty(t, report.LongTerm.Entries)
	assert.Equal(t, "0", report.ShortTerm.TotalGainLoss)
	assert.Equal(t, "0", report.Income.Total)
	assert.Equal(t, "0", report.Summary.NetGainLoss)
	assert.Equal(t, 0, report.Summary.UncategorizedTransactions)
}
