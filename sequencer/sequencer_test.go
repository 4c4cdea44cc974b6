package sequencer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerekov/escrowchain/bank"
	"github.com/nerekov/escrowchain/config"
	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/engine"
	_ "github.com/nerekov/escrowchain/engine/modules/ledger"
	"github.com/nerekov/escrowchain/events"
	"github.com/nerekov/escrowchain/internal/testutil"
	"github.com/nerekov/escrowchain/nft"
	"github.com/nerekov/escrowchain/storage"
	"github.com/nerekov/escrowchain/wallet"
)

const testChainID = "seq-test-chain"

// haltedBlockStore fails CommitBlock on demand to simulate storage faults.
type haltedBlockStore struct {
	*testutil.MemBlockStore
	fail bool
}

func (s *haltedBlockStore) CommitBlock(b *core.Block) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemBlockStore.CommitBlock(b)
}

// TestProduceBlockRevertsOnStoreFailure checks that a block which cannot be
// stored leaves no trace: executed mutations are unwound, nonces are back to
// their pre-block values, and the transactions stay in the mempool so the
// next tick produces an identical block once storage recovers.
func TestProduceBlockRevertsOnStoreFailure(t *testing.T) {
	store := &haltedBlockStore{MemBlockStore: testutil.NewMemBlockStore()}
	bc := core.NewBlockchain(store)
	require.NoError(t, bc.Init())

	state := storage.NewStateDB(testutil.NewMemDB())
	emitter := events.NewEmitter()
	exec := engine.NewExecutor(state, emitter, nft.NewRegistry(state, emitter), bank.NewStateBank(state))
	mempool := core.NewMempool()

	operator, err := wallet.Generate()
	require.NoError(t, err)
	player, err := wallet.Generate()
	require.NoError(t, err)

	require.NoError(t, state.SetAccount(&core.Account{Address: player.PubKey(), Balance: 1000}))
	require.NoError(t, state.Commit())

	seq := New(&config.Config{MaxBlockTxs: 100}, bc, state, mempool, exec, emitter, operator.PrivKey())

	tx, err := player.Deposit(testChainID, "", 600, 0, 5)
	require.NoError(t, err)
	require.NoError(t, mempool.Add(tx))

	store.fail = true
	_, err = seq.ProduceBlock()
	require.Error(t, err)

	// The failed block must not have advanced the chain or the ledger.
	require.Equal(t, int64(0), bc.Height())
	acc, err := state.GetAccount(player.PubKey())
	require.NoError(t, err)
	require.Equal(t, uint64(1000), acc.Balance)
	require.Equal(t, uint64(0), acc.Available)
	require.Equal(t, uint64(0), acc.Nonce)
	require.Equal(t, 1, mempool.Size())

	// Once the store recovers the same transaction goes through cleanly.
	store.fail = false
	block, err := seq.ProduceBlock()
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	require.Equal(t, int64(1), bc.Height())

	acc, err = state.GetAccount(player.PubKey())
	require.NoError(t, err)
	require.Equal(t, uint64(395), acc.Balance)
	require.Equal(t, uint64(600), acc.Available)
	require.Equal(t, uint64(1), acc.Nonce)
	require.Equal(t, 0, mempool.Size())
}
