package tax

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chain-ledger/internal/types"
)

// TransactionSource supplies the transactions a report is built from. The
// repository implements it; reports never re-query raw chain data.
type TransactionSource interface {
	GetInRange(ctx context.Context, walletID string, fromTs, toTs int64) ([]*types.UnifiedTransaction, error)
}

// GainSummary buckets disposal entries with running totals. Totals are
// decimal strings.
type GainSummary struct {
	Entries        []types.CostBasisInfo `json:"entries"`
	TotalProceeds  string                `json:"totalProceeds"`
	TotalCostBasis string                `json:"totalCostBasis"`
	TotalGainLoss  string                `json:"totalGainLoss"`
}

// IncomeSummary totals income events by category.
type IncomeSummary struct {
	ByCategory map[types.TaxCategory]string `json:"byCategory"`
	Total      string                       `json:"total"`
}

// ReportSummary carries whole-report counters.
type ReportSummary struct {
	TotalTransactions         int    `json:"totalTransactions"`
	UncategorizedTransactions int    `json:"uncategorizedTransactions"`
	NetGainLoss               string `json:"netGainLoss"`
}

// TaxReport is a wallet's tax year, complete enough that any export format
// can be rendered from it alone.
type TaxReport struct {
	WalletID  string                `json:"walletId"`
	Year      int                   `json:"year"`
	Currency  string                `json:"currency"`
	Method    types.CostBasisMethod `json:"method"`
	ShortTerm GainSummary           `json:"shortTerm"`
	LongTerm  GainSummary           `json:"longTerm"`
	Income    IncomeSummary         `json:"income"`
	Summary   ReportSummary         `json:"summary"`
}

// Reporter aggregates persisted transactions into yearly reports.
type Reporter struct {
	source   TransactionSource
	currency string
}

// NewReporter creates a Reporter. Currency is display metadata only; the
// fiat values themselves were fixed at enrichment time.
func NewReporter(source TransactionSource, currency string) *Reporter {
	return &Reporter{source: source, currency: currency}
}

// ReportRequest selects the wallet year to aggregate.
type ReportRequest struct {
	WalletID string
	// Addresses are the wallet's own addresses, used to tell received
	// income apart from the other side of a transfer.
	Addresses []string
	Year      int
	Method    types.CostBasisMethod
}

// GenerateReport buckets every cost-basis entry disposed inside the calendar
// year into short/long summaries and totals income by category.
func (r *Reporter) GenerateReport(ctx context.Context, req ReportRequest) (*TaxReport, error) {
	yearStart := time.Date(req.Year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	yearEnd := time.Date(req.Year+1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()

	txs, err := r.source.GetInRange(ctx, req.WalletID, yearStart, yearEnd)
	if err != nil {
		return nil, err
	}

	users := newAddressSet(req.Addresses)
	report := &TaxReport{
		WalletID: req.WalletID,
		Year:     req.Year,
		Currency: r.currency,
		Method:   req.Method,
		Income:   IncomeSummary{ByCategory: make(map[types.TaxCategory]string)},
	}

	var (
		shortProceeds, shortCost, shortGain decimal.Decimal
		longProceeds, longCost, longGain    decimal.Decimal
		incomeTotal                         decimal.Decimal
		incomeByCategory                    = make(map[types.TaxCategory]decimal.Decimal)
	)

	for _, tx := range txs {
		report.Summary.TotalTransactions++
		if tx.TaxCategory == nil || *tx.TaxCategory == types.CategoryUnknown {
			report.Summary.UncategorizedTransactions++
		}

		for _, entry := range tx.CostBasis {
			if entry.DisposedAt < yearStart || entry.DisposedAt >= yearEnd {
				continue
			}
			proceeds, _ := decimal.NewFromString(entry.ProceedsFiat)
			cost, _ := decimal.NewFromString(entry.CostBasisFiat)
			gain, _ := decimal.NewFromString(entry.GainLoss)
			if entry.HoldingPeriod == types.HoldingLong {
				report.LongTerm.Entries = append(report.LongTerm.Entries, entry)
				longProceeds = longProceeds.Add(proceeds)
				longCost = longCost.Add(cost)
				longGain = longGain.Add(gain)
			} else {
				report.ShortTerm.Entries = append(report.ShortTerm.Entries, entry)
				shortProceeds = shortProceeds.Add(proceeds)
				shortCost = shortCost.Add(cost)
				shortGain = shortGain.Add(gain)
			}
		}

		if tx.TaxCategory != nil && tx.TaxCategory.IsIncome() {
			received := receivedFiat(tx, users)
			if received.Sign() != 0 {
				incomeTotal = incomeTotal.Add(received)
				incomeByCategory[*tx.TaxCategory] = incomeByCategory[*tx.TaxCategory].Add(received)
			}
		}
	}

	report.ShortTerm.TotalProceeds = shortProceeds.String()
	report.ShortTerm.TotalCostBasis = shortCost.String()
	report.ShortTerm.TotalGainLoss = shortGain.String()
	report.LongTerm.TotalProceeds = longProceeds.String()
	report.LongTerm.TotalCostBasis = longCost.String()
	report.LongTerm.TotalGainLoss = longGain.String()
	report.Income.Total = incomeTotal.String()
	for category, total := range incomeByCategory {
		report.Income.ByCategory[category] = total.String()
	}
	report.Summary.NetGainLoss = shortGain.Add(longGain).String()
	return report, nil
}

// receivedFiat sums the enriched fiat value flowing into user addresses.
func receivedFiat(tx *types.UnifiedTransaction, users addressSet) decimal.Decimal {
	total := decimal.Zero
	for _, transfer := range tx.Transfers {
		if !users.contains(transfer.To) || users.contains(transfer.From) {
			continue
		}
		if value, ok := fiatAmount(transfer.Amount); ok {
			total = total.Add(value)
		}
	}
	return total
}
