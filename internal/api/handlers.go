package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/chain-ledger/internal/reporting"
	"github.com/chain-ledger/internal/tax"
	"github.com/chain-ledger/internal/types"
	"github.com/chain-ledger/internal/worker"
)

const defaultTransactionLimit = 100

// handleGetTransactions returns the transactions involving an address,
// filtered by the query string.
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "address is required", nil)
		return
	}

	filter, err := parseTransactionFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}

	txs, err := s.store.GetForAddress(r.Context(), address, filter)
	if err != nil {
		respondCategorizedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address":      address,
		"count":        len(txs),
		"transactions": txs,
	})
}

func parseTransactionFilter(r *http.Request) (types.TransactionFilter, error) {
	q := r.URL.Query()
	filter := types.TransactionFilter{Limit: defaultTransactionLimit}

	if chains := q.Get("chains"); chains != "" {
		for _, chain := range strings.Split(chains, ",") {
			filter.Chains = append(filter.Chains, types.Chain(strings.TrimSpace(chain)))
		}
	}
	if direction := q.Get("direction"); direction != "" {
		d := types.TransactionDirection(direction)
		filter.Direction = &d
	}
	if status := q.Get("status"); status != "" {
		st := types.TransactionStatus(status)
		filter.Status = &st
	}
	if category := q.Get("category"); category != "" {
		c := types.TaxCategory(category)
		filter.TaxCategory = &c
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid from timestamp %q", raw)
		}
		filter.DateFrom = &ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid to timestamp %q", raw)
		}
		filter.DateTo = &ts
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", raw)
		}
		filter.Offset = offset
	}
	return filter, nil
}

// handleGetReport renders a wallet-year tax report. format selects the
// representation: json (default), csv, form8949 or income.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	walletID := vars["walletId"]
	year, err := strconv.Atoi(vars["year"])
	if err != nil || year < 2009 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "year must be a valid tax year", nil)
		return
	}

	q := r.URL.Query()
	method := types.CostBasisMethod(q.Get("method"))
	if method == "" {
		method = types.MethodFIFO
	}
	var addresses []string
	if raw := q.Get("addresses"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			addresses = append(addresses, strings.TrimSpace(addr))
		}
	}

	report, err := s.reports.GenerateReport(r.Context(), tax.ReportRequest{
		WalletID:  walletID,
		Addresses: addresses,
		Year:      year,
		Method:    method,
	})
	if err != nil {
		respondCategorizedError(w, err)
		return
	}

	format := q.Get("format")
	switch format {
	case "", "json":
		respondJSON(w, http.StatusOK, report)
		return
	case "csv":
		writeCSV(w, fmt.Sprintf("disposals-%s-%d.csv", walletID, year))
		err = reporting.RenderDisposalsCSV(w, report)
	case "form8949":
		writeCSV(w, fmt.Sprintf("form8949-%s-%d.csv", walletID, year))
		err = reporting.RenderForm8949(w, report)
	case "income":
		writeCSV(w, fmt.Sprintf("income-%s-%d.csv", walletID, year))
		err = reporting.RenderIncomeCSV(w, report)
	default:
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", fmt.Sprintf("unknown format %q", format), nil)
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("report rendering failed")
	}
}

func writeCSV(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
}

// syncRequest is the body of POST /api/v1/sync.
type syncRequest struct {
	WalletID  string              `json:"walletId"`
	Addresses map[string][]string `json:"addresses"`
}

// handleSync runs an on-demand wallet sync and reports the outcome.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body", nil)
		return
	}
	if req.WalletID == "" || len(req.Addresses) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "walletId and addresses are required", nil)
		return
	}

	ws := worker.WalletSync{
		WalletID:  req.WalletID,
		Addresses: make(map[types.Chain][]string, len(req.Addresses)),
	}
	for chain, addrs := range req.Addresses {
		ws.Addresses[types.Chain(chain)] = addrs
	}

	result, err := s.syncer.SyncWallet(r.Context(), ws)
	if err != nil {
		respondCategorizedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"walletId":     req.WalletID,
		"fetched":      result.Fetched,
		"deduplicated": result.Deduplicated,
		"processed":    result.Processed,
		"taxFailures":  result.TaxFailures,
		"fetchErrors":  result.FetchErrors,
	})
}
