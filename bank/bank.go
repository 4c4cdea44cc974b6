// Package bank provides the production core.Bank adapter. Payouts from the
// escrow engine land on the recipient's on-chain balance, which keeps value
// inside the ledger and makes the payout path revertible with the rest of
// the transaction.
package bank

import (
	"errors"

	"github.com/nerekov/escrowchain/core"
)

// StateBank credits payouts to the recipient account in chain state.
type StateBank struct {
	state core.State
}

// NewStateBank creates a StateBank over state.
func NewStateBank(state core.State) *StateBank {
	return &StateBank{state: state}
}

// Pay credits amount to the recipient's balance, creating the account if it
// does not exist yet.
func (b *StateBank) Pay(to string, amount uint64) error {
	if to == "" {
		return errors.New("payout recipient required")
	}
	if amount == 0 {
		return nil
	}
	acc, err := b.state.GetAccount(to)
	if err != nil {
		return err
	}
	acc.Balance += amount
	return b.state.SetAccount(acc)
}
