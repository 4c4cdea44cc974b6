package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/events"
)

// Executor applies transactions to the ledger using the global Handler
// registry. One Executor serves one chain; its reentrancy guard spans all
// transactions it executes, so a capability callback that re-submits a
// guarded operation is caught even though it arrives as a fresh call.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	assets  core.AssetRegistry
	bank    core.Bank
	guard   *guard
}

// NewExecutor creates an Executor over state with the given event emitter
// and external capabilities.
func NewExecutor(state core.State, emitter *events.Emitter, assets core.AssetRegistry, bank core.Bank) *Executor {
	return &Executor{
		state:   state,
		emitter: emitter,
		assets:  assets,
		bank:    bank,
		guard:   &guard{},
	}
}

// ExecuteTx verifies and executes a single transaction.
//
// Admission failures (bad signature, wrong nonce, fee unpayable) reject the
// transaction outright: it returns (nil, err) and must not be included in a
// block. Once admitted, the fee and nonce are charged unconditionally; the
// operation itself runs against a snapshot and rolls back on failure, so a
// failed operation costs the sender exactly the execution fee and nothing
// else. The outcome is reported in the returned receipt.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*core.Receipt, error) {
	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	admissionSnap, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	if err := e.chargeFee(tx); err != nil {
		if revertErr := e.state.RevertToSnapshot(admissionSnap); revertErr != nil {
			return nil, fmt.Errorf("revert after admission failure: %w (revert: %v)", err, revertErr)
		}
		return nil, err
	}

	opSnap, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	receipt := &core.Receipt{TxID: tx.ID, OK: true}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Emitter: e.emitter,
		Assets:  e.assets,
		Bank:    e.bank,
		guard:   e.guard,
	}
	if err := globalRegistry.Execute(tx.Type, ctx, tx.Payload); err != nil {
		receipt.OK = false
		receipt.Error = err.Error()

		var keep *noRevertError
		if !errors.As(err, &keep) {
			if revertErr := e.state.RevertToSnapshot(opSnap); revertErr != nil {
				return nil, fmt.Errorf("revert after op failure: %w (revert: %v)", err, revertErr)
			}
		}
	}

	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data: map[string]any{
				"type":  string(tx.Type),
				"from":  tx.From,
				"ok":    receipt.OK,
				"error": receipt.Error,
			},
		})
	}
	return receipt, nil
}

// chargeFee checks the nonce and debits the execution fee from the sender's
// native balance.
func (e *Executor) chargeFee(tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("%w: cannot pay execution fee, have %d need %d",
			core.ErrInsufficientFunds, acc.Balance, tx.Fee)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	return e.state.SetAccount(acc)
}
