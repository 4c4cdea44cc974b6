package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/internal/testutil"
	"github.com/nerekov/escrowchain/storage"
)

// TestCommittedStateIgnoresWriteBuffer pins down the isolation contract: the
// committed view reads only flushed data, so buffered mutations (which may
// still be rolled back) are invisible until Commit.
func TestCommittedStateIgnoresWriteBuffer(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	view := storage.NewCommittedState(db)

	require.NoError(t, s.SetAccount(&core.Account{Address: "alice", Balance: 900}))
	require.NoError(t, s.SetFeePool(42))

	// Nothing committed yet.
	acc, err := view.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), acc.Balance)
	pool, err := view.FeePool()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pool)

	require.NoError(t, s.Commit())

	acc, err = view.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(900), acc.Balance)
	pool, err = view.FeePool()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), pool)
}

func TestCommittedStateAbsenceSemantics(t *testing.T) {
	view := storage.NewCommittedState(testutil.NewMemDB())

	w, err := view.GetWager("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, core.WagerUninitialized, w.Status)

	_, err = view.GetListing("swords", "s1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = view.GetAsset("swords", "s1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	paused, err := view.Paused()
	require.NoError(t, err)
	assert.False(t, paused)
}
