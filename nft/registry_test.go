package nft_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerekov/escrowchain/bank"
	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
	"github.com/nerekov/escrowchain/internal/testutil"
	"github.com/nerekov/escrowchain/nft"
	"github.com/nerekov/escrowchain/wallet"
)

func TestRegistryOwnership(t *testing.T) {
	state := testutil.NewStateDB()
	r := nft.NewRegistry(state, nil)

	require.NoError(t, r.Register("swords", "s1", "alice"))
	owner, err := r.OwnerOf("swords", "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	// Registering the same asset twice fails.
	err = r.Register("swords", "s1", "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	_, err = r.OwnerOf("swords", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistryApprovals(t *testing.T) {
	state := testutil.NewStateDB()
	r := nft.NewRegistry(state, nil)
	require.NoError(t, r.Register("swords", "s1", "alice"))

	ok, err := r.IsApproved("swords", "s1", core.MarketOperator)
	require.NoError(t, err)
	assert.False(t, ok)

	// Blanket operator grant from the owner.
	require.NoError(t, state.SetOperator("alice", core.MarketOperator, true))
	ok, _ = r.IsApproved("swords", "s1", core.MarketOperator)
	assert.True(t, ok)

	// Per-asset approval works independently.
	a, _ := state.GetAsset("swords", "s1")
	a.Approvals = map[string]bool{"carol": true}
	require.NoError(t, state.SetAsset(a))
	ok, _ = r.IsApproved("swords", "s1", "carol")
	assert.True(t, ok)

	// Unknown assets are simply unapproved, not an error.
	ok, err = r.IsApproved("swords", "missing", "carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryTransfer(t *testing.T) {
	state := testutil.NewStateDB()
	r := nft.NewRegistry(state, nil)
	require.NoError(t, r.Register("swords", "s1", "alice"))

	a, _ := state.GetAsset("swords", "s1")
	a.Approvals = map[string]bool{core.MarketOperator: true}
	require.NoError(t, state.SetAsset(a))

	// Only the current owner can be the transfer source.
	err := r.Transfer("swords", "s1", "bob", "carol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owned by alice")

	require.NoError(t, r.Transfer("swords", "s1", "alice", "bob"))
	owner, _ := r.OwnerOf("swords", "s1")
	assert.Equal(t, "bob", owner)

	// The transfer wiped the per-asset approvals of the old owner.
	ok, _ := r.IsApproved("swords", "s1", core.MarketOperator)
	assert.False(t, ok)
}

func TestRegistryTransferEmitsEvent(t *testing.T) {
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	r := nft.NewRegistry(state, emitter)
	require.NoError(t, r.Register("swords", "s1", "alice"))

	var got events.Event
	emitter.Subscribe(events.EventAssetTransferred, func(ev events.Event) { got = ev })

	require.NoError(t, r.Transfer("swords", "s1", "alice", "bob"))
	assert.Equal(t, events.EventAssetTransferred, got.Type)
	assert.Equal(t, "bob", got.Data["to"])
}

func newExecEnv(t *testing.T) (*engine.Executor, *wallet.Wallet, core.State) {
	t.Helper()
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	exec := engine.NewExecutor(state, emitter, nft.NewRegistry(state, emitter), bank.NewStateBank(state))
	admin, err := wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, state.SetAdmin(admin.PubKey()))
	return exec, admin, state
}

func execOne(t *testing.T, exec *engine.Executor, tx *core.Transaction) *core.Receipt {
	t.Helper()
	block := core.NewBlock(1, "prev", "seq", []*core.Transaction{tx})
	receipt, err := exec.ExecuteTx(block, tx)
	require.NoError(t, err)
	return receipt
}

func TestRegisterAssetHandler(t *testing.T) {
	exec, admin, state := newExecEnv(t)
	owner, _ := wallet.Generate()

	// Admin registers on behalf of another owner.
	tx, _ := admin.NewTx("test-chain", core.TxRegisterAsset, 0, 0, core.RegisterAssetPayload{
		Collection: "swords", AssetID: "s1", Owner: owner.PubKey(),
	})
	receipt := execOne(t, exec, tx)
	require.True(t, receipt.OK, receipt.Error)
	a, err := state.GetAsset("swords", "s1")
	require.NoError(t, err)
	assert.Equal(t, owner.PubKey(), a.Owner)

	// Anyone may register an asset to themselves.
	tx, _ = owner.NewTx("test-chain", core.TxRegisterAsset, 0, 0, core.RegisterAssetPayload{
		Collection: "swords", AssetID: "s2",
	})
	receipt = execOne(t, exec, tx)
	require.True(t, receipt.OK, receipt.Error)

	// But not to arbitrary third parties.
	tx, _ = owner.NewTx("test-chain", core.TxRegisterAsset, 1, 0, core.RegisterAssetPayload{
		Collection: "swords", AssetID: "s3", Owner: admin.PubKey(),
	})
	receipt = execOne(t, exec, tx)
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "not authorized")
}

func TestSetApprovalHandler(t *testing.T) {
	exec, _, state := newExecEnv(t)
	owner, _ := wallet.Generate()
	stranger, _ := wallet.Generate()
	require.NoError(t, state.SetAsset(&core.AssetRecord{Collection: "swords", AssetID: "s1", Owner: owner.PubKey()}))

	// Blanket grant.
	tx, _ := owner.NewTx("test-chain", core.TxSetApproval, 0, 0, core.SetApprovalPayload{
		Operator: core.MarketOperator, All: true, Approved: true,
	})
	receipt := execOne(t, exec, tx)
	require.True(t, receipt.OK, receipt.Error)
	ok, _ := state.GetOperator(owner.PubKey(), core.MarketOperator)
	assert.True(t, ok)

	// Per-asset approval by the owner.
	tx, _ = owner.NewTx("test-chain", core.TxSetApproval, 1, 0, core.SetApprovalPayload{
		Collection: "swords", AssetID: "s1", Operator: "carol", Approved: true,
	})
	receipt = execOne(t, exec, tx)
	require.True(t, receipt.OK, receipt.Error)
	a, _ := state.GetAsset("swords", "s1")
	assert.True(t, a.Approvals["carol"])

	// A non-owner cannot grant per-asset approval.
	tx, _ = stranger.NewTx("test-chain", core.TxSetApproval, 0, 0, core.SetApprovalPayload{
		Collection: "swords", AssetID: "s1", Operator: "mallory", Approved: true,
	})
	receipt = execOne(t, exec, tx)
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "only the owner")
}
