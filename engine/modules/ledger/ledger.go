// Package ledger implements the balance ledger operations: deposits into
// and withdrawals out of the escrow available balance, and the backup
// address delegation that lets a bounded set of alternate identities act on
// behalf of a primary account.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
)

func init() {
	engine.Register(core.TxDeposit, handleDeposit)
	engine.Register(core.TxWithdraw, handleWithdraw)
	engine.Register(core.TxAddBackup, handleAddBackup)
	engine.Register(core.TxRemoveBackup, handleRemoveBackup)
}

// resolvePrimary returns the account an operation targets. When the payload
// names an account other than the caller, the caller must be registered in
// that account's backup set.
func resolvePrimary(ctx *engine.Context, target string) (string, error) {
	if target == "" || target == ctx.Tx.From {
		return ctx.Tx.From, nil
	}
	primary, err := ctx.State.GetAccount(target)
	if err != nil {
		return "", err
	}
	if !primary.HasBackup(ctx.Tx.From) {
		return "", fmt.Errorf("%w: %s is not a backup of %s", core.ErrNotAuthorizedDelegate, ctx.Tx.From, target)
	}
	return target, nil
}

func handleDeposit(ctx *engine.Context, payload json.RawMessage) error {
	var p core.DepositPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deposit payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: deposit amount must be > 0", core.ErrInvalidAmount)
	}

	target, err := resolvePrimary(ctx, p.Account)
	if err != nil {
		return err
	}

	// The payer is always the caller; the credited account may differ when
	// a backup deposits on behalf of its primary.
	payer, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if payer.Balance < p.Amount {
		return fmt.Errorf("%w: have %d need %d", core.ErrInsufficientFunds, payer.Balance, p.Amount)
	}
	payer.Balance -= p.Amount
	if err := ctx.State.SetAccount(payer); err != nil {
		return err
	}

	acc, err := ctx.State.GetAccount(target)
	if err != nil {
		return err
	}
	acc.Available += p.Amount
	if err := ctx.State.SetAccount(acc); err != nil {
		return err
	}

	ctx.Emit(events.EventDeposit, map[string]any{
		"payer":   ctx.Tx.From,
		"account": target,
		"amount":  p.Amount,
	})
	return nil
}

func handleWithdraw(ctx *engine.Context, payload json.RawMessage) error {
	// Withdraw pushes native currency out through the bank, which may call
	// back into the ledger synchronously.
	if err := ctx.EnterGuard(); err != nil {
		return err
	}
	defer ctx.ExitGuard()

	var p core.WithdrawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode withdraw payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: withdraw amount must be > 0", core.ErrInvalidAmount)
	}

	target, err := resolvePrimary(ctx, p.Account)
	if err != nil {
		return err
	}

	acc, err := ctx.State.GetAccount(target)
	if err != nil {
		return err
	}
	if acc.Available < p.Amount {
		return fmt.Errorf("%w: available %d, requested %d", core.ErrInsufficientFunds, acc.Available, p.Amount)
	}

	// Effects before the interaction: debit first, then pay. The bank
	// failure propagates and the executor rolls the debit back, so the
	// operation is all-or-nothing.
	acc.Available -= p.Amount
	if err := ctx.State.SetAccount(acc); err != nil {
		return err
	}

	// The currency always goes to the caller, which for a delegated
	// withdrawal is the backup address, not the primary.
	if err := ctx.Bank.Pay(ctx.Tx.From, p.Amount); err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransferFailed, err)
	}

	ctx.Emit(events.EventWithdrawal, map[string]any{
		"recipient": ctx.Tx.From,
		"account":   target,
		"amount":    p.Amount,
	})
	return nil
}

func handleAddBackup(ctx *engine.Context, payload json.RawMessage) error {
	var p core.AddBackupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode add_backup payload: %w", err)
	}
	if p.Delegate == "" {
		return errors.New("delegate address required")
	}
	if p.Delegate == ctx.Tx.From {
		return errors.New("cannot register self as backup")
	}

	acc, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if len(acc.Backups) >= core.MaxBackups {
		return fmt.Errorf("backup set full (max %d)", core.MaxBackups)
	}
	if acc.HasBackup(p.Delegate) {
		return fmt.Errorf("delegate %s already registered", p.Delegate)
	}
	acc.Backups = append(acc.Backups, p.Delegate)
	if err := ctx.State.SetAccount(acc); err != nil {
		return err
	}

	ctx.Emit(events.EventBackupAdded, map[string]any{
		"account":  ctx.Tx.From,
		"delegate": p.Delegate,
	})
	return nil
}

func handleRemoveBackup(ctx *engine.Context, payload json.RawMessage) error {
	var p core.RemoveBackupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode remove_backup payload: %w", err)
	}

	acc, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	idx := -1
	for i, b := range acc.Backups {
		if b == p.Delegate {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("delegate %s not registered", p.Delegate)
	}
	// Swap-with-last and pop; removal order is not preserved.
	last := len(acc.Backups) - 1
	acc.Backups[idx] = acc.Backups[last]
	acc.Backups = acc.Backups[:last]
	if err := ctx.State.SetAccount(acc); err != nil {
		return err
	}

	ctx.Emit(events.EventBackupRemoved, map[string]any{
		"account":  ctx.Tx.From,
		"delegate": p.Delegate,
	})
	return nil
}
