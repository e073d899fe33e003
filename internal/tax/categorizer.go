// Package tax turns normalized, price-enriched transactions into tax events:
// it assigns categories, drives the lot ledger and aggregates yearly reports.
package tax

import (
	"context"
	"strings"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// Suggestion is an advisory categorization from an external classifier.
type Suggestion struct {
	Category   types.TaxCategory
	Confidence float64
}

// Suggester is the advisory categorization boundary. Suggestions may raise
// the confidence of a rule-based category but never silently replace it.
type Suggester interface {
	SuggestCategory(ctx context.Context, tx *types.UnifiedTransaction, userAddresses []string) (Suggestion, error)
}

// Categorizer assigns a TaxCategory to transactions using contract
// allow-lists and direction rules, optionally consulting a Suggester.
type Categorizer struct {
	knownContracts map[string]types.TaxCategory
	suggester      Suggester
	logger         *logging.Logger
}

// CategorizerConfig holds Categorizer construction parameters.
type CategorizerConfig struct {
	// KnownContracts maps lowercase contract/program addresses to the
	// category their interactions imply (e.g. a staking pool).
	KnownContracts map[string]types.TaxCategory
	Suggester      Suggester
	Logger         *logging.Logger
}

// NewCategorizer creates a Categorizer.
func NewCategorizer(cfg CategorizerConfig) *Categorizer {
	known := make(map[string]types.TaxCategory, len(cfg.KnownContracts))
	for addr, cat := range cfg.KnownContracts {
		known[strings.ToLower(addr)] = cat
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithField("component", "categorizer")
	}
	return &Categorizer{
		knownContracts: known,
		suggester:      cfg.Suggester,
		logger:         logger,
	}
}

// Categorize assigns a category and confidence to the transaction. An
// already-assigned category (a user override) is left untouched. When the
// advisory suggester disagrees with the rules, the rule category stands and
// the disagreement is recorded as a tag.
func (c *Categorizer) Categorize(ctx context.Context, tx *types.UnifiedTransaction, userAddresses []string) {
	if tx.TaxCategory != nil {
		return
	}

	category, confidence := c.ruleCategory(tx)
	tx.TaxCategory = &category
	tx.TaxCategoryConfidence = &confidence

	if c.suggester == nil {
		return
	}
	suggestion, err := c.suggester.SuggestCategory(ctx, tx, userAddresses)
	if err != nil {
		c.logger.WithField("hash", tx.Hash).WithError(err).Warn("category suggestion failed")
		return
	}
	if suggestion.Category == category {
		if suggestion.Confidence > confidence {
			tx.TaxCategoryConfidence = &suggestion.Confidence
		}
		return
	}
	tx.Tags = append(tx.Tags, "suggested:"+string(suggestion.Category))
}

func (c *Categorizer) ruleCategory(tx *types.UnifiedTransaction) (types.TaxCategory, float64) {
	if tx.Status == types.StatusFailed || tx.Status == types.StatusDropped {
		return types.CategoryFee, 0.9
	}

	for _, interaction := range tx.ContractInteractions {
		if cat, ok := c.knownContracts[strings.ToLower(interaction.Address)]; ok {
			return cat, 0.85
		}
	}

	switch tx.Direction {
	case types.DirectionSwap:
		return types.CategorySwap, 0.9
	case types.DirectionSelf:
		return types.CategoryTransfer, 0.9
	case types.DirectionContract:
		return types.CategoryFee, 0.6
	case types.DirectionOutgoing:
		return types.CategoryPaymentSent, 0.5
	case types.DirectionIncoming:
		return types.CategoryUnknown, 0.3
	}
	return types.CategoryUnknown, 0
}
