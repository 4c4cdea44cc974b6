package engine

import (
	"fmt"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/events"
)

// Context is passed to every Handler and provides access to the ledger
// state, the current block, the triggering transaction, the event emitter,
// and the external capabilities (asset registry, bank).
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Emitter *events.Emitter
	Assets  core.AssetRegistry
	Bank    core.Bank

	guard *guard
}

// guard is the reentrancy latch shared by every guarded handler of one
// executor. Execution is serialized, so the danger is not concurrency but a
// capability (bank, asset registry) synchronously calling back into the
// engine before the initiating operation returns. A plain flag suffices.
type guard struct {
	busy bool
}

// EnterGuard acquires the reentrancy latch. A nested call while any guarded
// operation is in flight fails with ErrReentrantCall.
func (ctx *Context) EnterGuard() error {
	if ctx.guard.busy {
		return core.ErrReentrantCall
	}
	ctx.guard.busy = true
	return nil
}

// ExitGuard releases the latch. Callers must defer it immediately after a
// successful EnterGuard so the latch clears on every exit path.
func (ctx *Context) ExitGuard() {
	ctx.guard.busy = false
}

// RequireAdmin fails with ErrNotAuthorized unless the transaction sender is
// the stored administrator identity.
func (ctx *Context) RequireAdmin() error {
	admin, err := ctx.State.Admin()
	if err != nil {
		return err
	}
	if admin == "" || ctx.Tx.From != admin {
		return fmt.Errorf("%w: administrator only", core.ErrNotAuthorized)
	}
	return nil
}

// RequireUnpaused fails with ErrOperationPaused while the circuit breaker is
// set. Reads are unaffected; only state-mutating operations check this.
func (ctx *Context) RequireUnpaused() error {
	paused, err := ctx.State.Paused()
	if err != nil {
		return err
	}
	if paused {
		return core.ErrOperationPaused
	}
	return nil
}

// Emit sends an event stamped with the current transaction and block.
func (ctx *Context) Emit(typ events.EventType, data map[string]any) {
	if ctx.Emitter == nil {
		return
	}
	ctx.Emitter.Emit(events.Event{
		Type:        typ,
		TxID:        ctx.Tx.ID,
		BlockHeight: ctx.Block.Header.Height,
		Data:        data,
	})
}

// noRevertError marks a handler failure whose state changes must survive.
type noRevertError struct {
	err error
}

func (e *noRevertError) Error() string { return e.err.Error() }
func (e *noRevertError) Unwrap() error { return e.err }

// NoRevert wraps err so the executor records the failure without rolling the
// operation's state changes back. The only legitimate use is purging records
// whose invariant was broken out-of-band (a listing whose seller no longer
// owns the asset): the purge must persist even though the operation fails.
func NoRevert(err error) error {
	return &noRevertError{err: err}
}
