package tests

import (
	"testing"

	"github.com/nerekov/escrowchain/bank"
	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
	"github.com/nerekov/escrowchain/internal/testutil"
	"github.com/nerekov/escrowchain/nft"
	"github.com/nerekov/escrowchain/wallet"

	// Register operation handlers
	_ "github.com/nerekov/escrowchain/engine/modules/admin"
	_ "github.com/nerekov/escrowchain/engine/modules/ledger"
	_ "github.com/nerekov/escrowchain/engine/modules/market"
	_ "github.com/nerekov/escrowchain/engine/modules/wager"
)

func newTestExecutor(t *testing.T) (core.State, *engine.Executor) {
	t.Helper()
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	exec := engine.NewExecutor(state, emitter, nft.NewRegistry(state, emitter), bank.NewStateBank(state))
	return state, exec
}

// TestDepositWithdrawFlow runs a deposit and a withdrawal end to end through
// the executor and checks the balance movements.
func TestDepositWithdrawFlow(t *testing.T) {
	state, exec := newTestExecutor(t)

	w, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 1000})

	block := core.NewBlock(1, "0000", w.PubKey(), nil)

	tx, err := w.Deposit(testChainID, "", 600, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	receipt, err := exec.ExecuteTx(block, tx)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !receipt.OK {
		t.Fatalf("deposit receipt: %s", receipt.Error)
	}

	acc, _ := state.GetAccount(w.PubKey())
	if acc.Balance != 400 || acc.Available != 600 {
		t.Errorf("after deposit: balance=%d available=%d, want 400/600", acc.Balance, acc.Available)
	}

	tx, err = w.Withdraw(testChainID, 250, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	receipt, err = exec.ExecuteTx(block, tx)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !receipt.OK {
		t.Fatalf("withdraw receipt: %s", receipt.Error)
	}

	acc, _ = state.GetAccount(w.PubKey())
	if acc.Balance != 650 || acc.Available != 350 {
		t.Errorf("after withdraw: balance=%d available=%d, want 650/350", acc.Balance, acc.Available)
	}
}

// TestFailedOpKeepsFee verifies that an admitted transaction whose operation
// fails is rolled back but still pays the execution fee and consumes the nonce.
func TestFailedOpKeepsFee(t *testing.T) {
	state, exec := newTestExecutor(t)

	w, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 1000})

	block := core.NewBlock(1, "0000", w.PubKey(), nil)

	// Withdraw with nothing deposited fails the operation, not admission.
	tx, _ := w.Withdraw(testChainID, 500, 0, 10)
	receipt, err := exec.ExecuteTx(block, tx)
	if err != nil {
		t.Fatalf("ExecuteTx: %v", err)
	}
	if receipt.OK {
		t.Fatal("withdraw with empty escrow balance should fail")
	}

	acc, _ := state.GetAccount(w.PubKey())
	if acc.Balance != 990 {
		t.Errorf("balance: got %d want 990 (fee charged, nothing else)", acc.Balance)
	}
	if acc.Nonce != 1 {
		t.Errorf("nonce: got %d want 1", acc.Nonce)
	}
}

// TestNonceReplay verifies that replaying a transaction with the same nonce
// is rejected at admission.
func TestNonceReplay(t *testing.T) {
	state, exec := newTestExecutor(t)

	w, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 1000})

	block := core.NewBlock(1, "0000", w.PubKey(), nil)

	tx, _ := w.Deposit(testChainID, "", 100, 0, 0)
	if _, err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("first tx: %v", err)
	}
	// Replay (same nonce=0, already consumed)
	if _, err := exec.ExecuteTx(block, tx); err == nil {
		t.Error("replay should fail due to nonce mismatch")
	}
}
