package ledger

import (
	"fmt"
	"time"

	"github.com/giftvault/giftvault/internal/models"
)

// Replay folds entries in order starting from the card's face value and
// checks the chain: each BalanceBefore must match the running balance and
// the final balance must equal card.Balance. It returns the replayed balance.
func Replay(card *models.GiftCard, entries []models.Transaction) (int64, error) {
	if card == nil {
		return 0, fmt.Errorf("ledger: replay nil card")
	}
	running := card.Value
	for i, entry := range entries {
		if entry.GiftCardID != card.ID {
			return running, fmt.Errorf("%w: entry %d belongs to card %d", ErrLedgerChainBroken, entry.ID, entry.GiftCardID)
		}
		if entry.BalanceBefore != running {
			return running, fmt.Errorf("%w: entry #%d (id=%d) starts at %d, expected %d", ErrLedgerChainBroken, i, entry.ID, entry.BalanceBefore, running)
		}
		if entry.BalanceAfter < 0 || entry.BalanceAfter > card.Value {
			return running, fmt.Errorf("%w: entry #%d (id=%d) leaves balance %d outside [0, %d]", ErrLedgerChainBroken, i, entry.ID, entry.BalanceAfter, card.Value)
		}
		running = entry.BalanceAfter
	}
	if running != card.Balance {
		return running, fmt.Errorf("%w: replayed %d, card holds %d", ErrLedgerChainBroken, running, card.Balance)
	}
	return running, nil
}

// BalanceAt returns the balance the card held at the given instant by
// replaying entries created at or before it.
func BalanceAt(card *models.GiftCard, entries []models.Transaction, at time.Time) int64 {
	running := card.Value
	for _, entry := range entries {
		if entry.CreatedAt.After(at) {
			break
		}
		running = entry.BalanceAfter
	}
	return running
}
