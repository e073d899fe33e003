package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCategorizeWrappedError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("fetching block: %w", NewNetworkError("ethereum", "eth_getBlockByHash", cause))

	catErr := Categorize(err)
	if catErr.Category != CategoryNetwork {
		t.Errorf("Category = %v, want %v", catErr.Category, CategoryNetwork)
	}
	if catErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %v, want %v", catErr.StatusCode, http.StatusBadGateway)
	}
	if !errors.Is(err, catErr.Cause) {
		t.Error("expected cause to survive wrapping")
	}
}

func TestCategorizePlainError(t *testing.T) {
	catErr := Categorize(errors.New("something broke"))
	if catErr.Category != CategorySystem {
		t.Errorf("Category = %v, want %v", catErr.Category, CategorySystem)
	}
	if catErr.Code != "INTERNAL_ERROR" {
		t.Errorf("Code = %v, want INTERNAL_ERROR", catErr.Code)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network error", NewNetworkError("bitcoin", "fetch", errors.New("timeout")), true},
		{"database error", NewDatabaseError("insert", errors.New("broken pipe")), true},
		{"cache error", NewCacheError("get", errors.New("closed")), true},
		{"service unavailable", NewServiceUnavailableError("clickhouse"), true},
		{"parse error", NewParseError("solana", "sig", errors.New("bad payload")), false},
		{"insufficient lots", NewInsufficientLotsError("w1", "ethereum:native:ETH", "2", "1"), false},
		{"invalid parameter", NewInvalidParameterError("year", "too early"), false},
		{"plain error", errors.New("unexpected"), false},
		{"wrapped network error", fmt.Errorf("sync: %w", NewNetworkError("ethereum", "fetch", nil)), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsParseError(t *testing.T) {
	if !IsParseError(NewParseError("bitcoin", "txid", errors.New("truncated"))) {
		t.Error("expected parse error to be detected")
	}
	if !IsParseError(NewUnknownAssetError("ethereum", "0xdead")) {
		t.Error("expected unknown asset to count as a parse failure")
	}
	if IsParseError(NewNetworkError("bitcoin", "fetch", nil)) {
		t.Error("network error should not be a parse error")
	}
}

func TestIsInsufficientLots(t *testing.T) {
	err := NewInsufficientLotsError("w1", "bitcoin:native:BTC", "1.5", "0.5")
	if !IsInsufficientLots(err) {
		t.Error("expected insufficient lots to be detected")
	}
	if !IsInsufficientLots(fmt.Errorf("processing disposal: %w", err)) {
		t.Error("expected detection through wrapping")
	}
}

func TestUserVsSystemError(t *testing.T) {
	if !IsUserError(NewInvalidAddressError("not-an-address")) {
		t.Error("invalid address should be a user error")
	}
	if !IsSystemError(NewDatabaseError("query", nil)) {
		t.Error("database error should be a system error")
	}
	if IsSystemError(NewNotFoundError("wallet", "w1")) {
		t.Error("not found should not be a system error")
	}
}
