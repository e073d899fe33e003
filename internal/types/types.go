// Package types provides the unified multi-chain transaction model shared by
// every component: chain adapters produce it, the price enricher annotates it,
// the tax engine consumes it and the repositories persist it.
package types

import "strings"

// Chain represents supported blockchain networks
type Chain string

const (
	// ChainBitcoin represents the Bitcoin mainnet
	ChainBitcoin Chain = "bitcoin"
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum Chain = "ethereum"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum Chain = "arbitrum"
	// ChainOptimism represents the Optimism network
	ChainOptimism Chain = "optimism"
	// ChainBase represents the Base network
	ChainBase Chain = "base"
	// ChainPolygon represents the Polygon network
	ChainPolygon Chain = "polygon"
	// ChainSolana represents the Solana mainnet
	ChainSolana Chain = "solana"
)

// TransactionStatus represents transaction lifecycle state
type TransactionStatus string

const (
	// StatusPending represents a transaction seen but not yet confirmed
	StatusPending TransactionStatus = "pending"
	// StatusConfirmed represents a transaction included in a block
	StatusConfirmed TransactionStatus = "confirmed"
	// StatusFailed represents a transaction that executed and reverted
	StatusFailed TransactionStatus = "failed"
	// StatusDropped represents a transaction evicted from the mempool
	StatusDropped TransactionStatus = "dropped"
)

// TransactionDirection classifies a transaction relative to the user's addresses
type TransactionDirection string

const (
	// DirectionIncoming represents value flowing to a user address
	DirectionIncoming TransactionDirection = "incoming"
	// DirectionOutgoing represents value flowing from a user address
	DirectionOutgoing TransactionDirection = "outgoing"
	// DirectionSelf represents value moving between user addresses only
	DirectionSelf TransactionDirection = "self"
	// DirectionSwap represents a user exchanging one asset for another
	DirectionSwap TransactionDirection = "swap"
	// DirectionContract represents a contract call with no user value movement
	DirectionContract TransactionDirection = "contract"
)

// AssetKind represents the class of a value unit
type AssetKind string

const (
	// AssetNative represents a chain's base currency (BTC, ETH, SOL)
	AssetNative AssetKind = "native"
	// AssetToken represents a fungible contract token (ERC-20, SPL)
	AssetToken AssetKind = "token"
	// AssetNFT represents a non-fungible token
	AssetNFT AssetKind = "nft"
	// AssetLP represents a liquidity-pool share token
	AssetLP AssetKind = "lp"
)

// TransferType classifies how a transfer was observed on chain
type TransferType string

const (
	// TransferNative is a base-currency movement
	TransferNative TransferType = "native"
	// TransferToken is a contract token movement
	TransferToken TransferType = "token"
	// TransferNFT is a non-fungible token movement
	TransferNFT TransferType = "nft"
	// TransferInternal is a movement observed via trace/internal calls
	TransferInternal TransferType = "internal"
)

// TaxCategory represents the tax treatment assigned to a transaction
type TaxCategory string

const (
	// Capital gains events
	CategorySale        TaxCategory = "sale"
	CategorySwap        TaxCategory = "swap"
	CategoryNFTSale     TaxCategory = "nft_sale"
	CategoryPaymentSent TaxCategory = "payment_sent"

	// Income events
	CategoryAirdrop       TaxCategory = "airdrop"
	CategoryStakingReward TaxCategory = "staking_reward"
	CategoryMiningReward  TaxCategory = "mining_reward"
	CategoryDeFiYield     TaxCategory = "defi_yield"
	CategorySalary        TaxCategory = "salary"

	// Acquisitions and non-taxable movements
	CategoryTransfer     TaxCategory = "transfer"
	CategoryPurchase     TaxCategory = "purchase"
	CategoryGiftReceived TaxCategory = "gift_received"
	CategoryGiftSent     TaxCategory = "gift_sent"

	// Special
	CategoryFee        TaxCategory = "fee"
	CategoryBridge     TaxCategory = "bridge"
	CategoryDeposit    TaxCategory = "deposit"
	CategoryWithdrawal TaxCategory = "withdrawal"
	CategoryUnknown    TaxCategory = "unknown"
)

// IsDisposal reports whether the category triggers capital-gains treatment.
func (c TaxCategory) IsDisposal() bool {
	switch c {
	case CategorySale, CategorySwap, CategoryNFTSale, CategoryPaymentSent:
		return true
	}
	return false
}

// IsIncome reports whether the category is taxed as income at receipt.
func (c TaxCategory) IsIncome() bool {
	switch c {
	case CategoryAirdrop, CategoryStakingReward, CategoryMiningReward, CategoryDeFiYield, CategorySalary:
		return true
	}
	return false
}

// IsAcquisition reports whether the category creates a cost-basis lot
// without itself being a taxable event.
func (c TaxCategory) IsAcquisition() bool {
	switch c {
	case CategoryPurchase, CategoryGiftReceived:
		return true
	}
	return false
}

// CostBasisMethod selects the lot-matching strategy for disposals
type CostBasisMethod string

const (
	// MethodFIFO consumes the oldest lots first
	MethodFIFO CostBasisMethod = "fifo"
	// MethodLIFO consumes the newest lots first
	MethodLIFO CostBasisMethod = "lifo"
	// MethodHIFO consumes the highest per-unit-cost lots first
	MethodHIFO CostBasisMethod = "hifo"
	// MethodSpecific consumes caller-identified lots
	MethodSpecific CostBasisMethod = "specific"
)

// HoldingPeriod classifies the time between acquisition and disposal
type HoldingPeriod string

const (
	// HoldingShort is below the jurisdiction's long-term threshold
	HoldingShort HoldingPeriod = "short"
	// HoldingLong is at or above the jurisdiction's long-term threshold
	HoldingLong HoldingPeriod = "long"
)

// UnknownAddress is the sentinel used when a counterparty address cannot be
// resolved (e.g. UTXO inputs whose previous outputs were not fetched).
const UnknownAddress = "unknown"

// Asset identifies a fungible or non-fungible value unit. Two assets are the
// same iff chain, contract address (or native-ness) and token ID match;
// symbol and name are display metadata and do not participate in identity.
type Asset struct {
	Chain           Chain     `json:"chain"`
	Kind            AssetKind `json:"kind"`
	Symbol          string    `json:"symbol"`
	Name            string    `json:"name"`
	Decimals        uint8     `json:"decimals"`
	ContractAddress *string   `json:"contractAddress,omitempty"`
	TokenID         *string   `json:"tokenId,omitempty"`
	PriceID         *string   `json:"priceId,omitempty"`
}

// NewNativeAsset creates the base-currency asset for a chain.
func NewNativeAsset(chain Chain, symbol, name string, decimals uint8) Asset {
	return Asset{
		Chain:    chain,
		Kind:     AssetNative,
		Symbol:   symbol,
		Name:     name,
		Decimals: decimals,
	}
}

// NewTokenAsset creates a contract token asset.
func NewTokenAsset(chain Chain, symbol, name string, decimals uint8, contractAddress string) Asset {
	return Asset{
		Chain:           chain,
		Kind:            AssetToken,
		Symbol:          symbol,
		Name:            name,
		Decimals:        decimals,
		ContractAddress: &contractAddress,
	}
}

// IsNative reports whether the asset is a chain's base currency.
func (a Asset) IsNative() bool {
	return a.Kind == AssetNative
}

// Equal reports identity equality: (chain, contract-or-native, tokenID).
func (a Asset) Equal(b Asset) bool {
	if a.Chain != b.Chain {
		return false
	}
	if !equalOptionalFold(a.ContractAddress, b.ContractAddress) {
		return false
	}
	return equalOptional(a.TokenID, b.TokenID)
}

// Key returns a stable identity string usable as a map or ledger key.
func (a Asset) Key() string {
	contract := "native"
	if a.ContractAddress != nil {
		contract = strings.ToLower(*a.ContractAddress)
	}
	tokenID := ""
	if a.TokenID != nil {
		tokenID = *a.TokenID
	}
	return string(a.Chain) + "/" + contract + "/" + tokenID
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalOptionalFold(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return strings.EqualFold(*a, *b)
}

// FiatValue is the valuation attached by the price enricher. The engine never
// recomputes it. Amount and Price are decimal strings.
type FiatValue struct {
	Currency       string `json:"currency"`
	Amount         string `json:"amount"`
	Price          string `json:"price"`
	PriceTimestamp int64  `json:"priceTimestamp"`
	PriceSource    string `json:"priceSource"`
}

// Amount couples an asset with an exact quantity. Raw is the amount in the
// smallest chain unit, stored as a decimal string because satoshi, wei and
// lamport values routinely exceed the 53-bit safe-integer range.
type Amount struct {
	Asset     Asset      `json:"asset"`
	Raw       string     `json:"raw"`
	Formatted string     `json:"formatted"`
	FiatValue *FiatValue `json:"fiatValue,omitempty"`
}

// Transfer is one atomic movement of an Amount between two addresses within
// a transaction. Order within a transaction follows the chain-native index
// (output index, log index or account index) so downstream matching is
// deterministic.
type Transfer struct {
	ID           string       `json:"id"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	Amount       Amount       `json:"amount"`
	TransferType TransferType `json:"transferType"`
	LogIndex     *uint32      `json:"logIndex,omitempty"`
}

// Fee is the transaction-level fee, computed once per transaction and never
// per transfer. FeeRate is a chain-specific bag (satPerVbyte, gasUsed, ...).
type Fee struct {
	Amount  Amount            `json:"amount"`
	FeeRate map[string]string `json:"feeRate,omitempty"`
	Payer   string            `json:"payer"`
}

// ContractInteraction records a contract or program touched by a transaction.
type ContractInteraction struct {
	Address string  `json:"address"`
	Name    *string `json:"name,omitempty"`
	Method  *string `json:"method,omitempty"`
}

// CostBasisInfo is the result of matching one disposal slice against one lot.
// A disposal that consumes multiple lots produces one entry per lot.
// Fiat fields are decimal strings.
type CostBasisInfo struct {
	Asset           Asset           `json:"asset"`
	Amount          string          `json:"amount"`
	CostBasisFiat   string          `json:"costBasisFiat"`
	AcquiredAt      int64           `json:"acquiredAt"`
	AcquisitionTxID string          `json:"acquisitionTxId,omitempty"`
	DisposedAt      int64           `json:"disposedAt"`
	HoldingPeriod   HoldingPeriod   `json:"holdingPeriod"`
	ProceedsFiat    string          `json:"proceedsFiat"`
	GainLoss        string          `json:"gainLoss"`
	Method          CostBasisMethod `json:"method"`
}

// TaxLot is an acquisition record used as the basis for later disposals.
// Lots are never deleted, only closed, so the audit trail survives.
type TaxLot struct {
	ID              string `json:"id"`
	WalletID        string `json:"walletId"`
	Asset           Asset  `json:"asset"`
	AmountAcquired  string `json:"amountAcquired"`
	RemainingAmount string `json:"remainingAmount"`
	CostBasisFiat   string `json:"costBasisFiat"`
	AcquiredAt      int64  `json:"acquiredAt"`
	AcquisitionTxID string `json:"acquisitionTxId"`
	// TransferID disambiguates multiple acquisitions inside one transaction
	// and gates idempotent re-ingestion.
	TransferID string `json:"transferId"`
	IsClosed   bool   `json:"isClosed"`
}

// UnifiedTransaction is the central chain-agnostic record. (chain, hash) is
// globally unique; refetching the same transaction upserts, never duplicates.
// The struct is created once by an adapter and mutated only to attach fiat
// values, the tax category and cost-basis results.
type UnifiedTransaction struct {
	ID                    string                `json:"id"`
	Chain                 Chain                 `json:"chain"`
	Hash                  string                `json:"hash"`
	BlockNumber           *uint64               `json:"blockNumber,omitempty"`
	BlockHash             *string               `json:"blockHash,omitempty"`
	TransactionIndex      *uint32               `json:"transactionIndex,omitempty"`
	Timestamp             *int64                `json:"timestamp,omitempty"`
	Confirmations         uint32                `json:"confirmations"`
	Status                TransactionStatus     `json:"status"`
	Direction             TransactionDirection  `json:"direction"`
	Fee                   Fee                   `json:"fee"`
	Transfers             []Transfer            `json:"transfers"`
	ContractInteractions  []ContractInteraction `json:"contractInteractions"`
	TaxCategory           *TaxCategory          `json:"taxCategory,omitempty"`
	TaxCategoryConfidence *float64              `json:"taxCategoryConfidence,omitempty"`
	TaxSubCategory        *string               `json:"taxSubCategory,omitempty"`
	Notes                 *string               `json:"notes,omitempty"`
	Tags                  []string              `json:"tags,omitempty"`
	NeedsReview           bool                  `json:"needsReview,omitempty"`
	CostBasis             []CostBasisInfo       `json:"costBasis,omitempty"`
	ChainSpecific         ChainSpecificData     `json:"chainSpecific"`
	CreatedAt             int64                 `json:"createdAt"`
	UpdatedAt             int64                 `json:"updatedAt"`
}

// InvolvesAddress reports whether the address appears on either side of any
// transfer. Comparison is case-insensitive to cover EVM checksum casing.
func (t *UnifiedTransaction) InvolvesAddress(address string) bool {
	for _, tr := range t.Transfers {
		if strings.EqualFold(tr.From, address) || strings.EqualFold(tr.To, address) {
			return true
		}
	}
	return false
}

// AllAddresses returns the unique addresses involved, in transfer order.
func (t *UnifiedTransaction) AllAddresses() []string {
	seen := make(map[string]bool)
	var addresses []string
	for _, tr := range t.Transfers {
		for _, addr := range []string{tr.From, tr.To} {
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			addresses = append(addresses, addr)
		}
	}
	return addresses
}

// IsTaxable reports whether the assigned category is a capital-gains or
// income event.
func (t *UnifiedTransaction) IsTaxable() bool {
	if t.TaxCategory == nil {
		return false
	}
	return t.TaxCategory.IsDisposal() || t.TaxCategory.IsIncome()
}

// TransactionFilter narrows repository queries.
type TransactionFilter struct {
	Chains      []Chain
	Direction   *TransactionDirection
	Status      *TransactionStatus
	TaxCategory *TaxCategory
	AssetSymbol *string
	DateFrom    *int64
	DateTo      *int64
	Limit       int
	Offset      int
}

// TransactionSummary aggregates counts for a set of transactions.
type TransactionSummary struct {
	Total       int64                          `json:"total"`
	ByChain     map[Chain]int64                `json:"byChain"`
	ByDirection map[TransactionDirection]int64 `json:"byDirection"`
	ByStatus    map[TransactionStatus]int64    `json:"byStatus"`
	ByCategory  map[TaxCategory]int64          `json:"byTaxCategory"`
}
