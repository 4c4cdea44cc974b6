// Package admin implements the administrator capability surface: the
// collection allow-list, the pause circuit breaker, platform fee withdrawal,
// and transfer of the administrator authority itself.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
)

func init() {
	engine.Register(core.TxApproveCollection, handleApproveCollection)
	engine.Register(core.TxRemoveCollection, handleRemoveCollection)
	engine.Register(core.TxPause, handlePause)
	engine.Register(core.TxUnpause, handleUnpause)
	engine.Register(core.TxWithdrawFees, handleWithdrawFees)
	engine.Register(core.TxTransferAdmin, handleTransferAdmin)
}

func handleApproveCollection(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.ApproveCollectionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode approve_collection payload: %w", err)
	}
	if p.Collection == "" {
		return errors.New("collection identity required")
	}
	if err := ctx.State.SetCollectionApproved(p.Collection, true); err != nil {
		return err
	}
	ctx.Emit(events.EventCollectionApproved, map[string]any{"collection": p.Collection})
	return nil
}

func handleRemoveCollection(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.RemoveCollectionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode remove_collection payload: %w", err)
	}
	if err := ctx.State.SetCollectionApproved(p.Collection, false); err != nil {
		return err
	}
	ctx.Emit(events.EventCollectionRemoved, map[string]any{"collection": p.Collection})
	return nil
}

func handlePause(ctx *engine.Context, _ json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	// Flips only the flag; every record stays untouched and reads keep
	// working while paused.
	if err := ctx.State.SetPaused(true); err != nil {
		return err
	}
	ctx.Emit(events.EventPaused, nil)
	return nil
}

func handleUnpause(ctx *engine.Context, _ json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	if err := ctx.State.SetPaused(false); err != nil {
		return err
	}
	ctx.Emit(events.EventUnpaused, nil)
	return nil
}

func handleWithdrawFees(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	if err := ctx.RequireUnpaused(); err != nil {
		return err
	}
	if err := ctx.EnterGuard(); err != nil {
		return err
	}
	defer ctx.ExitGuard()

	var p core.WithdrawFeesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode withdraw_fees payload: %w", err)
	}

	pool, err := ctx.State.FeePool()
	if err != nil {
		return err
	}

	amount := p.Amount
	if amount == 0 {
		if pool == 0 {
			return nil // zero request against an empty pool is a no-op
		}
		amount = pool
	}
	if amount > pool {
		return fmt.Errorf("%w: fee pool holds %d, requested %d", core.ErrInsufficientFunds, pool, amount)
	}

	if err := ctx.State.SetFeePool(pool - amount); err != nil {
		return err
	}
	if err := ctx.Bank.Pay(ctx.Tx.From, amount); err != nil {
		return fmt.Errorf("%w: fee payout: %v", core.ErrTransferFailed, err)
	}

	ctx.Emit(events.EventFeesWithdrawn, map[string]any{
		"recipient": ctx.Tx.From,
		"amount":    amount,
	})
	return nil
}

func handleTransferAdmin(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.TransferAdminPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_admin payload: %w", err)
	}
	if p.NewAdmin == "" {
		return errors.New("new administrator identity required")
	}
	if err := ctx.State.SetAdmin(p.NewAdmin); err != nil {
		return err
	}
	ctx.Emit(events.EventAdminTransferred, map[string]any{
		"previous": ctx.Tx.From,
		"new":      p.NewAdmin,
	})
	return nil
}
