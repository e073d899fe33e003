package adapter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chain-ledger/internal/types"
)

// addressSet is a lowercase membership set of the user's addresses.
type addressSet map[string]bool

func newAddressSet(addresses []string) addressSet {
	set := make(addressSet, len(addresses))
	for _, a := range addresses {
		if a == "" {
			continue
		}
		set[strings.ToLower(a)] = true
	}
	return set
}

func (s addressSet) contains(address string) bool {
	return s[strings.ToLower(address)]
}

// transactionID builds the globally unique identifier for a transaction.
func transactionID(chain types.Chain, hash string) string {
	return string(chain) + ":" + hash
}

// determineDirection classifies a transaction relative to the user's
// addresses from its transfers. A transaction with no value movement is a
// contract interaction. Sending one asset while receiving a different one is
// a swap; change returned to the sender does not make an outgoing payment a
// swap because the asset is the same.
func determineDirection(transfers []types.Transfer, user addressSet) types.TransactionDirection {
	if len(transfers) == 0 {
		return types.DirectionContract
	}

	sent := make(map[string]bool)
	received := make(map[string]bool)
	externalParty := false
	userMoved := false

	for _, tr := range transfers {
		if tr.Amount.IsZero() {
			continue
		}
		fromUser := user.contains(tr.From)
		toUser := user.contains(tr.To)

		if fromUser {
			sent[tr.Amount.Asset.Key()] = true
			userMoved = true
		}
		if toUser {
			received[tr.Amount.Asset.Key()] = true
			userMoved = true
		}
		if (fromUser && !toUser) || (toUser && !fromUser) {
			externalParty = true
		}
	}

	if !userMoved {
		return types.DirectionContract
	}

	switch {
	case len(sent) > 0 && len(received) > 0:
		for key := range received {
			if !sent[key] {
				return types.DirectionSwap
			}
		}
		for key := range sent {
			if !received[key] {
				return types.DirectionSwap
			}
		}
		if externalParty {
			return types.DirectionOutgoing
		}
		return types.DirectionSelf
	case len(sent) > 0:
		return types.DirectionOutgoing
	default:
		return types.DirectionIncoming
	}
}

// finalizeTransaction applies the invariants every adapter must uphold:
// a unique ID, transfers ordered by chain-native index, a direction derived
// from the transfers, and creation timestamps.
func finalizeTransaction(tx *types.UnifiedTransaction, user addressSet) {
	tx.ID = transactionID(tx.Chain, tx.Hash)

	sort.SliceStable(tx.Transfers, func(i, j int) bool {
		a, b := tx.Transfers[i].LogIndex, tx.Transfers[j].LogIndex
		// Transfers without a log index (synthesized native movements) sort
		// ahead of log-derived ones; ties keep insertion order.
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return *a < *b
	})

	// Positional IDs derived from the transaction ID make transfers stable
	// across re-fetches; the lot ledger keys its replay guards on them.
	for i := range tx.Transfers {
		tx.Transfers[i].ID = fmt.Sprintf("%s#%d", tx.ID, i)
	}

	tx.Direction = determineDirection(tx.Transfers, user)

	// A confirmed transaction that moved no value and touched no contract is
	// suspicious enough to flag for review.
	if tx.Status == types.StatusConfirmed && len(tx.Transfers) == 0 && len(tx.ContractInteractions) == 0 {
		tx.NeedsReview = true
	}

	now := time.Now().Unix()
	if tx.CreatedAt == 0 {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
}
