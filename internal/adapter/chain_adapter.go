// Package adapter converts chain-native transaction formats into the unified
// model. Each adapter is a pure transform over raw payloads fetched by a
// RawSource, so the parsing logic is testable without a node connection.
package adapter

import (
	"context"
	"fmt"

	"github.com/chain-ledger/internal/types"
)

// ChainAdapter defines the interface for blockchain-specific adapters
type ChainAdapter interface {
	// TransformTransaction converts a blockchain-specific transaction to the
	// unified format. userAddresses identifies which side of each movement
	// belongs to the user; it drives direction classification.
	// Returns error if the transaction format is invalid.
	TransformTransaction(rawTx interface{}, userAddresses []string) (*types.UnifiedTransaction, error)

	// GetTransactions fetches and transforms all transactions involving an
	// address. Transform failures never abort the batch: a malformed
	// transaction is returned as a failed record with empty transfers so it
	// can be persisted for later inspection.
	GetTransactions(ctx context.Context, address string, userAddresses []string) ([]*types.UnifiedTransaction, error)

	// GetBalance fetches the current native-asset balance of an address.
	GetBalance(ctx context.Context, address string) (types.Amount, error)

	// ValidateAddress checks if address format is valid for this chain
	ValidateAddress(address string) bool

	// Chain returns the chain identifier
	Chain() types.Chain
}

// Common error types for chain adapters

var (
	// ErrInvalidTransaction indicates the transaction format is invalid
	ErrInvalidTransaction = fmt.Errorf("invalid transaction format")

	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrSourceUnavailable indicates the raw data source is unavailable
	ErrSourceUnavailable = fmt.Errorf("raw data source unavailable")

	// ErrTransactionNotFound indicates the requested transaction was not found
	ErrTransactionNotFound = fmt.Errorf("transaction not found")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Chain   types.Chain
	Op      string // Operation that failed (e.g., "TransformTransaction", "GetTransactions")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("chain adapter error [%s:%s]: %v (details: %+v)", e.Chain, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("chain adapter error [%s:%s]: %v", e.Chain, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(chain types.Chain, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Chain:   chain,
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// TokenRegistry resolves token metadata for contract addresses and mints.
// Adapters degrade to a placeholder asset when a lookup misses, so unknown
// tokens never abort a transform.
type TokenRegistry interface {
	Lookup(chain types.Chain, contract string) (types.Asset, bool)
}

// placeholderToken builds the degraded asset used when the registry has no
// metadata for a contract.
func placeholderToken(chain types.Chain, contract string) types.Asset {
	asset := types.NewTokenAsset(chain, "UNKNOWN", "Unknown Token", 0, contract)
	return asset
}

// resolveToken looks up a token asset, falling back to a placeholder.
func resolveToken(registry TokenRegistry, chain types.Chain, contract string) types.Asset {
	if registry != nil {
		if asset, ok := registry.Lookup(chain, contract); ok {
			return asset
		}
	}
	return placeholderToken(chain, contract)
}
