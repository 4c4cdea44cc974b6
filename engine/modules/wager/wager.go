// Package wager implements the two-party wager escrow state machine:
// Uninitialized → Active (stakes locked) → Resolved (payout). Both
// transitions are administrator-only and happen exactly once per record.
package wager

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/crypto"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
)

func init() {
	engine.Register(core.TxWagerStart, handleStart)
	engine.Register(core.TxWagerResolve, handleResolve)
}

// lockStake debits the full pre-fee stake from a player's available balance
// and credits the post-fee amount to locked. Loading the account fresh per
// player keeps the arithmetic correct when both players are the same
// account; the players are not required to be distinct.
func lockStake(ctx *engine.Context, player string, stake, postFee uint64) error {
	acc, err := ctx.State.GetAccount(player)
	if err != nil {
		return err
	}
	if acc.Available < stake {
		return fmt.Errorf("%w: player %s has %d available, stake is %d",
			core.ErrInsufficientFunds, player, acc.Available, stake)
	}
	acc.Available -= stake
	acc.Locked += postFee
	return ctx.State.SetAccount(acc)
}

func handleStart(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}

	var p core.WagerStartPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode wager_start payload: %w", err)
	}
	if p.Identifier == "" {
		return errors.New("wager identifier required")
	}
	if p.Player1 == "" || p.Player2 == "" {
		return fmt.Errorf("%w: both player addresses required", core.ErrInvalidPlayer)
	}
	if p.Stake == 0 {
		return fmt.Errorf("%w: stake must be > 0", core.ErrInvalidStake)
	}

	key := crypto.Hash([]byte(p.Identifier))
	existing, err := ctx.State.GetWager(key)
	if err != nil {
		return err
	}
	if existing.Status != core.WagerUninitialized {
		return fmt.Errorf("%w: %q", core.ErrDuplicateIdentifier, p.Identifier)
	}

	params, err := ctx.State.FeeParams()
	if err != nil {
		return err
	}
	// The starting fee is computed on the stake and split between the two
	// sides; each player locks stake-half and the pool collects both halves.
	fee, err := core.FeeFor(p.Stake, params.WagerFeeBps)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidStake, err)
	}
	half := fee / 2
	postFee := p.Stake - half

	if err := lockStake(ctx, p.Player1, p.Stake, postFee); err != nil {
		return err
	}
	if err := lockStake(ctx, p.Player2, p.Stake, postFee); err != nil {
		return err
	}

	pool, err := ctx.State.FeePool()
	if err != nil {
		return err
	}
	if err := ctx.State.SetFeePool(pool + 2*half); err != nil {
		return err
	}

	w := &core.Wager{
		Key:         key,
		Player1:     p.Player1,
		Player2:     p.Player2,
		StakeAmount: postFee,
		Status:      core.WagerActive,
		CreatedAt:   ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetWager(w); err != nil {
		return err
	}

	for _, player := range []string{p.Player1, p.Player2} {
		ctx.Emit(events.EventStakeLocked, map[string]any{
			"wager_key": key,
			"player":    player,
			"amount":    postFee,
		})
	}
	ctx.Emit(events.EventWagerStarted, map[string]any{
		"wager_key": key,
		"player1":   p.Player1,
		"player2":   p.Player2,
		"stake":     postFee,
	})
	return nil
}

// unlockStake releases a player's locked stake. The locked balance can only
// be short if state was corrupted out-of-band; refuse to wrap it.
func unlockStake(ctx *engine.Context, player string, amount uint64) error {
	acc, err := ctx.State.GetAccount(player)
	if err != nil {
		return err
	}
	if acc.Locked < amount {
		return fmt.Errorf("%w: player %s locked %d, unlock of %d requested",
			core.ErrInsufficientFunds, player, acc.Locked, amount)
	}
	acc.Locked -= amount
	return ctx.State.SetAccount(acc)
}

func creditAvailable(ctx *engine.Context, player string, amount uint64) error {
	acc, err := ctx.State.GetAccount(player)
	if err != nil {
		return err
	}
	acc.Available += amount
	return ctx.State.SetAccount(acc)
}

func handleResolve(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}

	var p core.WagerResolvePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode wager_resolve payload: %w", err)
	}

	w, err := ctx.State.GetWager(p.WagerKey)
	if err != nil {
		return err
	}
	// Resolving a Resolved or Uninitialized record fails cleanly: replaying
	// a resolution can never double-pay.
	if w.Status != core.WagerActive {
		return fmt.Errorf("%w: wager %s", core.ErrNotActive, p.WagerKey)
	}

	if err := unlockStake(ctx, w.Player1, w.StakeAmount); err != nil {
		return err
	}
	if err := unlockStake(ctx, w.Player2, w.StakeAmount); err != nil {
		return err
	}

	switch p.Outcome {
	case core.OutcomePlayer1Won:
		if err := creditAvailable(ctx, w.Player1, 2*w.StakeAmount); err != nil {
			return err
		}
	case core.OutcomePlayer2Won:
		if err := creditAvailable(ctx, w.Player2, 2*w.StakeAmount); err != nil {
			return err
		}
	case core.OutcomeDraw:
		// Each player gets their own locked stake back, nothing more.
		if err := creditAvailable(ctx, w.Player1, w.StakeAmount); err != nil {
			return err
		}
		if err := creditAvailable(ctx, w.Player2, w.StakeAmount); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown outcome %q", p.Outcome)
	}

	w.Status = core.WagerResolved
	w.Outcome = p.Outcome
	w.ResolvedAt = ctx.Block.Header.Timestamp
	if err := ctx.State.SetWager(w); err != nil {
		return err
	}

	for _, player := range []string{w.Player1, w.Player2} {
		ctx.Emit(events.EventStakeUnlocked, map[string]any{
			"wager_key": w.Key,
			"player":    player,
			"amount":    w.StakeAmount,
		})
	}
	ctx.Emit(events.EventWagerResolved, map[string]any{
		"wager_key": w.Key,
		"outcome":   string(p.Outcome),
	})
	return nil
}
