// Package reporting renders tax reports into export formats. Every renderer
// works from the TaxReport alone; raw transactions are never re-queried.
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/chain-ledger/internal/tax"
	"github.com/chain-ledger/internal/types"
)

// RenderDisposalsCSV writes one row per cost-basis entry, short-term entries
// first, followed by a totals row per bucket.
func RenderDisposalsCSV(w io.Writer, report *tax.TaxReport) error {
	cw := csv.NewWriter(w)
	header := []string{
		"asset", "amount", "acquired_at", "disposed_at", "holding_period",
		"proceeds", "cost_basis", "gain_loss", "method",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	buckets := []struct {
		name    string
		summary tax.GainSummary
	}{
		{"short", report.ShortTerm},
		{"long", report.LongTerm},
	}
	for _, bucket := range buckets {
		for _, entry := range bucket.summary.Entries {
			row := []string{
				entry.Asset.Symbol,
				entry.Amount,
				formatDate(entry.AcquiredAt),
				formatDate(entry.DisposedAt),
				string(entry.HoldingPeriod),
				entry.ProceedsFiat,
				entry.CostBasisFiat,
				entry.GainLoss,
				string(entry.Method),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		if len(bucket.summary.Entries) == 0 {
			continue
		}
		totals := []string{
			"TOTAL_" + bucket.name, "", "", "", bucket.name,
			bucket.summary.TotalProceeds,
			bucket.summary.TotalCostBasis,
			bucket.summary.TotalGainLoss,
			"",
		}
		if err := cw.Write(totals); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// RenderForm8949 writes disposal rows in the shape of IRS Form 8949: Part I
// short-term, Part II long-term, with description/date-acquired/date-sold
// columns.
func RenderForm8949(w io.Writer, report *tax.TaxReport) error {
	cw := csv.NewWriter(w)
	header := []string{
		"part", "description", "date_acquired", "date_sold",
		"proceeds", "cost_basis", "gain_loss",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	write := func(part string, entries []types.CostBasisInfo) error {
		for _, entry := range entries {
			row := []string{
				part,
				fmt.Sprintf("%s %s", entry.Amount, entry.Asset.Symbol),
				formatDate(entry.AcquiredAt),
				formatDate(entry.DisposedAt),
				entry.ProceedsFiat,
				entry.CostBasisFiat,
				entry.GainLoss,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write("I", report.ShortTerm.Entries); err != nil {
		return err
	}
	if err := write("II", report.LongTerm.Entries); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// RenderIncomeCSV writes per-category income totals in category order.
func RenderIncomeCSV(w io.Writer, report *tax.TaxReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"category", "total", "currency"}); err != nil {
		return err
	}

	categories := make([]string, 0, len(report.Income.ByCategory))
	for category := range report.Income.ByCategory {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)

	for _, category := range categories {
		total := report.Income.ByCategory[types.TaxCategory(category)]
		if err := cw.Write([]string{category, total, report.Currency}); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"TOTAL", report.Income.Total, report.Currency}); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

func formatDate(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}
