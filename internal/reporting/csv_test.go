package reporting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-ledger/internal/tax"
	"github.com/chain-ledger/internal/types"
)

func sampleReport() *tax.TaxReport {
	eth := types.NewNativeAsset(types.ChainEthereum, "ETH", "Ether", 18)
	return &tax.TaxReport{
		WalletID: "w1",
		Year:     2024,
		Currency: "USD",
		Method:   types.MethodFIFO,
		ShortTerm: tax.GainSummary{
			Entries: []types.CostBasisInfo{{
				Asset:         eth,
				Amount:        "0.4",
				CostBasisFiat: "1000",
				ProceedsFiat:  "1200",
				GainLoss:      "200",
				AcquiredAt:    1706745600, // 2024-02-01
				DisposedAt:    1717200000, // 2024-06-01
				HoldingPeriod: types.HoldingShort,
				Method:        types.MethodFIFO,
			}},
			TotalProceeds:  "1200",
			TotalCostBasis: "1000",
			TotalGainLoss:  "200",
		},
		LongTerm: tax.GainSummary{
			TotalProceeds:  "0",
			TotalCostBasis: "0",
			TotalGainLoss:  "0",
		},
		Income: tax.IncomeSummary{
			ByCategory: map[types.TaxCategory]string{
				types.CategoryStakingReward: "50",
				types.CategoryAirdrop:       "10",
			},
			Total: "60",
		},
	}
}

func TestRenderDisposalsCSV(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, RenderDisposalsCSV(&sb, sampleReport()))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "asset,amount,acquired_at,disposed_at,holding_period,proceeds,cost_basis,gain_loss,method", lines[0])
	assert.Equal(t, "ETH,0.4,2024-02-01,2024-06-01,short,1200,1000,200,fifo", lines[1])
	assert.Contains(t, lines[2], "TOTAL_short")
	assert.Contains(t, lines[2], "200")
}

func TestRenderForm8949(t *testing.T) {
	report := sampleReport()
	report.LongTerm.Entries = []types.CostBasisInfo{{
		Asset:         types.NewNativeAsset(types.ChainBitcoin, "BTC", "Bitcoin", 8),
		Amount:        "1",
		CostBasisFiat: "30000",
		ProceedsFiat:  "60000",
		GainLoss:      "30000",
		AcquiredAt:    1609459200, // 2021-01-01
		DisposedAt:    1717200000, // 2024-06-01
		HoldingPeriod: types.HoldingLong,
		Method:        types.MethodFIFO,
	}}

	var sb strings.Builder
	require.NoError(t, RenderForm8949(&sb, report))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "I,0.4 ETH,2024-02-01,2024-06-01,1200,1000,200", lines[1])
	assert.Equal(t, "II,1 BTC,2021-01-01,2024-06-01,60000,30000,30000", lines[2])
}

func TestRenderIncomeCSV(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, RenderIncomeCSV(&sb, sampleReport()))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 4)
	// categories in sorted order, total last
	assert.Equal(t, "airdrop,10,USD", lines[1])
	assert.Equal(t, "staking_reward,50,USD", lines[2])
	assert.Equal(t, "TOTAL,60,USD", lines[3])
}
