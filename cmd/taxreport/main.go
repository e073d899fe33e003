// Package main provides a CLI tool that renders a wallet-year tax report to
// stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/chain-ledger/internal/config"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/reporting"
	"github.com/chain-ledger/internal/storage"
	"github.com/chain-ledger/internal/tax"
	"github.com/chain-ledger/internal/types"
)

func main() {
	var (
		walletID  = flag.String("wallet", "", "Wallet identifier")
		year      = flag.Int("year", time.Now().UTC().Year()-1, "Tax year")
		method    = flag.String("method", "", "Cost basis method: fifo, lifo, hifo (default from config)")
		format    = flag.String("format", "csv", "Output format: csv, form8949, income, json")
		addresses = flag.String("addresses", "", "Comma-separated wallet addresses, needed for income attribution")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	if *walletID == "" {
		logger.Fatal("-wallet is required")
	}

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	reportMethod := *method
	if reportMethod == "" {
		reportMethod = cfg.Tax.DefaultMethod
	}

	var addrList []string
	for _, addr := range strings.Split(*addresses, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrList = append(addrList, addr)
		}
	}

	reporter := tax.NewReporter(storage.NewTransactionRepository(clickhouse), cfg.Pricing.BaseCurrency)
	report, err := reporter.GenerateReport(context.Background(), tax.ReportRequest{
		WalletID:  *walletID,
		Addresses: addrList,
		Year:      *year,
		Method:    types.CostBasisMethod(reportMethod),
	})
	if err != nil {
		logger.WithError(err).Fatal("Report generation failed")
	}

	switch *format {
	case "csv":
		err = reporting.RenderDisposalsCSV(os.Stdout, report)
	case "form8949":
		err = reporting.RenderForm8949(os.Stdout, report)
	case "income":
		err = reporting.RenderIncomeCSV(os.Stdout, report)
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		err = encoder.Encode(report)
	default:
		logger.Fatalf("Unknown format: %s", *format)
	}
	if err != nil {
		logger.WithError(err).Fatal("Rendering failed")
	}
}
