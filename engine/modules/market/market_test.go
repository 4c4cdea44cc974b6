package market_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerekov/escrowchain/bank"
	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
	"github.com/nerekov/escrowchain/internal/testutil"
	"github.com/nerekov/escrowchain/nft"
	"github.com/nerekov/escrowchain/storage"
	"github.com/nerekov/escrowchain/wallet"

	_ "github.com/nerekov/escrowchain/engine/modules/ledger"
	_ "github.com/nerekov/escrowchain/engine/modules/market"
)

const (
	chainID    = "test-chain"
	collection = "swords"
	assetID    = "sword-7"
)

type env struct {
	state  *storage.StateDB
	exec   *engine.Executor
	seller *wallet.Wallet
	buyer  *wallet.Wallet
	height int64
	nonces map[string]uint64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithBank(t, nil)
}

func newEnvWithBank(t *testing.T, payouts core.Bank) *env {
	t.Helper()
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	assets := nft.NewRegistry(state, emitter)
	if payouts == nil {
		payouts = bank.NewStateBank(state)
	}
	exec := engine.NewExecutor(state, emitter, assets, payouts)

	seller, err := wallet.Generate()
	require.NoError(t, err)
	buyer, err := wallet.Generate()
	require.NoError(t, err)

	require.NoError(t, state.SetFeeParams(&core.FeeParams{WagerFeeBps: 300, MarketFeeBps: 250}))
	require.NoError(t, state.SetCollectionApproved(collection, true))
	require.NoError(t, state.SetAsset(&core.AssetRecord{
		Collection: collection,
		AssetID:    assetID,
		Owner:      seller.PubKey(),
	}))
	require.NoError(t, state.SetOperator(seller.PubKey(), core.MarketOperator, true))
	require.NoError(t, state.SetAccount(&core.Account{Address: seller.PubKey(), Balance: 1_000}))
	require.NoError(t, state.SetAccount(&core.Account{Address: buyer.PubKey(), Balance: 50_000}))

	return &env{
		state:  state,
		exec:   exec,
		seller: seller,
		buyer:  buyer,
		nonces: make(map[string]uint64),
	}
}

func (e *env) run(t *testing.T, tx *core.Transaction) *core.Receipt {
	t.Helper()
	e.height++
	block := core.NewBlock(e.height, "prev", "seq", []*core.Transaction{tx})
	receipt, err := e.exec.ExecuteTx(block, tx)
	require.NoError(t, err)
	return receipt
}

func (e *env) send(t *testing.T, w *wallet.Wallet, typ core.TxType, payload any) *core.Receipt {
	t.Helper()
	tx, err := w.NewTx(chainID, typ, e.nonces[w.PubKey()], 0, payload)
	require.NoError(t, err)
	e.nonces[w.PubKey()]++
	return e.run(t, tx)
}

func (e *env) list(t *testing.T, price uint64) *core.Receipt {
	t.Helper()
	return e.send(t, e.seller, core.TxListItem, core.ListItemPayload{
		Collection: collection,
		AssetID:    assetID,
		Price:      price,
		Metadata:   "fire enchant",
	})
}

func (e *env) account(t *testing.T, addr string) *core.Account {
	t.Helper()
	acc, err := e.state.GetAccount(addr)
	require.NoError(t, err)
	return acc
}

func TestListCreatesListing(t *testing.T) {
	e := newEnv(t)
	receipt := e.list(t, 10_000)
	require.True(t, receipt.OK, receipt.Error)

	l, err := e.state.GetListing(collection, assetID)
	require.NoError(t, err)
	assert.Equal(t, e.seller.PubKey(), l.Seller)
	assert.Equal(t, uint64(10_000), l.Price)
	assert.Equal(t, "fire enchant", l.Metadata)
}

func TestListPreconditions(t *testing.T) {
	e := newEnv(t)

	receipt := e.list(t, 0)
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "invalid price")

	receipt = e.send(t, e.seller, core.TxListItem, core.ListItemPayload{
		Collection: "unknown-collection", AssetID: assetID, Price: 100,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "collection not approved")

	// The buyer does not own the asset.
	receipt = e.send(t, e.buyer, core.TxListItem, core.ListItemPayload{
		Collection: collection, AssetID: assetID, Price: 100,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "does not own")

	// Listing twice fails.
	require.True(t, e.list(t, 100).OK)
	receipt = e.list(t, 100)
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "already listed")
}

func TestListRequiresMarketApproval(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.state.SetOperator(e.seller.PubKey(), core.MarketOperator, false))

	receipt := e.list(t, 100)
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "approval missing")
}

func TestPurchaseSettlesEverything(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.list(t, 10_000).OK)

	receipt := e.send(t, e.buyer, core.TxPurchaseItem, core.PurchaseItemPayload{
		Collection: collection, AssetID: assetID, Payment: 10_000,
	})
	require.True(t, receipt.OK, receipt.Error)

	// 2.5% platform fee: buyer pays 10000, seller nets 9750, pool gets 250.
	assert.Equal(t, uint64(40_000), e.account(t, e.buyer.PubKey()).Balance)
	assert.Equal(t, uint64(10_750), e.account(t, e.seller.PubKey()).Balance)
	pool, _ := e.state.FeePool()
	assert.Equal(t, uint64(250), pool)

	a, err := e.state.GetAsset(collection, assetID)
	require.NoError(t, err)
	assert.Equal(t, e.buyer.PubKey(), a.Owner)

	_, err = e.state.GetListing(collection, assetID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPurchaseExactPaymentRequired(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.list(t, 10_000).OK)

	for _, payment := range []uint64{9_999, 10_001} {
		receipt := e.send(t, e.buyer, core.TxPurchaseItem, core.PurchaseItemPayload{
			Collection: collection, AssetID: assetID, Payment: payment,
		})
		require.False(t, receipt.OK)
		assert.Contains(t, receipt.Error, "incorrect payment")
	}
	// Nothing moved.
	assert.Equal(t, uint64(50_000), e.account(t, e.buyer.PubKey()).Balance)
}

func TestPurchasePreconditions(t *testing.T) {
	e := newEnv(t)

	receipt := e.send(t, e.buyer, core.TxPurchaseItem, core.PurchaseItemPayload{
		Collection: collection, AssetID: assetID, Payment: 100,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "not listed")

	require.True(t, e.list(t, 10_000).OK)

	receipt = e.send(t, e.seller, core.TxPurchaseItem, core.PurchaseItemPayload{
		Collection: collection, AssetID: assetID, Payment: 10_000,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "own listing")

	poor, _ := wallet.Generate()
	require.NoError(t, e.state.SetAccount(&core.Account{Address: poor.PubKey(), Balance: 10}))
	receipt = e.send(t, poor, core.TxPurchaseItem, core.PurchaseItemPayload{
		Collection: collection, AssetID: assetID, Payment: 10_000,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "insufficient")
}

func TestPurchaseRejectsPriceOverflowingFee(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.state.SetAccount(&core.Account{Address: e.buyer.PubKey(), Balance: math.MaxUint64}))
	require.True(t, e.list(t, math.MaxUint64).OK)

	// price * 250 bps wraps a uint64; the sale must fail and roll back
	// instead of skimming a wrapped, near-zero fee.
	receipt := e.send(t, e.buyer, core.TxPurchaseItem, core.PurchaseItemPayload{
		Collection: collection, AssetID: assetID, Payment: math.MaxUint64,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "invalid price")

	assert.Equal(t, uint64(math.MaxUint64), e.account(t, e.buyer.PubKey()).Balance)
	l, err := e.state.GetListing(collection, assetID)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), l.Price)
	a, _ := e.state.GetAsset(collection, assetID)
	assert.Equal(t, e.seller.PubKey(), a.Owner)
	pool, _ := e.state.FeePool()
	assert.Equal(t, uint64(0), pool)
}

func TestStaleOwnershipPurgesListing(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.list(t, 10_000).OK)

	// Ownership moves outside the market while the listing is live.
	other, _ := wallet.Generate()
	require.NoError(t, e.state.SetAsset(&core.AssetRecord{
		Collection: collection, AssetID: assetID, Owner: other.PubKey(),
	}))

	receipt := e.send(t, e.buyer, core.TxPurchaseItem, core.PurchaseItemPayload{
		Collection: collection, AssetID: assetID, Payment: 10_000,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "no longer owns")

	// The purge survives the failed operation; the buyer paid nothing.
	_, err := e.state.GetListing(collection, assetID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, uint64(50_000), e.account(t, e.buyer.PubKey()).Balance)
}

func TestDelist(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.list(t, 10_000).OK)

	// Only the seller may delist.
	receipt := e.send(t, e.buyer, core.TxDelistItem, core.DelistItemPayload{
		Collection: collection, AssetID: assetID,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "not the seller")

	receipt = e.send(t, e.seller, core.TxDelistItem, core.DelistItemPayload{
		Collection: collection, AssetID: assetID,
	})
	require.True(t, receipt.OK, receipt.Error)
	_, err := e.state.GetListing(collection, assetID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdatePriceAndMetadata(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.list(t, 10_000).OK)

	receipt := e.send(t, e.seller, core.TxUpdatePrice, core.UpdatePricePayload{
		Collection: collection, AssetID: assetID, NewPrice: 12_000,
	})
	require.True(t, receipt.OK, receipt.Error)
	l, _ := e.state.GetListing(collection, assetID)
	assert.Equal(t, uint64(12_000), l.Price)

	// Setting the same price again is a successful no-op.
	receipt = e.send(t, e.seller, core.TxUpdatePrice, core.UpdatePricePayload{
		Collection: collection, AssetID: assetID, NewPrice: 12_000,
	})
	require.True(t, receipt.OK, receipt.Error)

	receipt = e.send(t, e.seller, core.TxUpdateMetadata, core.UpdateMetadataPayload{
		Collection: collection, AssetID: assetID, NewMetadata: "ice enchant",
	})
	require.True(t, receipt.OK, receipt.Error)
	l, _ = e.state.GetListing(collection, assetID)
	assert.Equal(t, "ice enchant", l.Metadata)
}

func TestPauseBlocksMarketMutations(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.state.SetPaused(true))

	receipt := e.list(t, 10_000)
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "paused")

	receipt = e.send(t, e.buyer, core.TxPurchaseItem, core.PurchaseItemPayload{
		Collection: collection, AssetID: assetID, Payment: 10_000,
	})
	require.False(t, receipt.OK)
	assert.Contains(t, receipt.Error, "paused")
}

// reentrantBank delivers payouts but first tries to sneak a withdrawal
// through the engine while the purchase is still in flight. It swallows the
// nested outcome the way a hostile payment processor would.
type reentrantBank struct {
	inner  core.Bank
	exec   *engine.Executor
	nested *core.Transaction
	block  *core.Block

	nestedReceipt *core.Receipt
	nestedErr     error
}

func (b *reentrantBank) Pay(to string, amount uint64) error {
	if b.nested != nil {
		nested := b.nested
		b.nested = nil
		b.nestedReceipt, b.nestedErr = b.exec.ExecuteTx(b.block, nested)
	}
	return b.inner.Pay(to, amount)
}

func TestPurchaseReentrancyIsBlocked(t *testing.T) {
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	assets := nft.NewRegistry(state, emitter)
	rb := &reentrantBank{inner: bank.NewStateBank(state)}
	exec := engine.NewExecutor(state, emitter, assets, rb)
	rb.exec = exec

	seller, _ := wallet.Generate()
	buyer, _ := wallet.Generate()
	require.NoError(t, state.SetFeeParams(&core.FeeParams{WagerFeeBps: 300, MarketFeeBps: 250}))
	require.NoError(t, state.SetCollectionApproved(collection, true))
	require.NoError(t, state.SetAsset(&core.AssetRecord{Collection: collection, AssetID: assetID, Owner: seller.PubKey()}))
	require.NoError(t, state.SetOperator(seller.PubKey(), core.MarketOperator, true))
	require.NoError(t, state.SetAccount(&core.Account{Address: seller.PubKey()}))
	require.NoError(t, state.SetAccount(&core.Account{Address: buyer.PubKey(), Balance: 20_000, Available: 5_000}))

	listTx, err := seller.ListItem(chainID, collection, assetID, 10_000, "", 0, 0)
	require.NoError(t, err)
	block := core.NewBlock(1, "prev", "seq", []*core.Transaction{listTx})
	receipt, err := exec.ExecuteTx(block, listTx)
	require.NoError(t, err)
	require.True(t, receipt.OK, receipt.Error)

	// The buyer's purchase is nonce 0; the nested withdrawal it smuggles in
	// through the bank callback is nonce 1.
	block2 := core.NewBlock(2, "prev", "seq", nil)
	nestedTx, err := buyer.Withdraw(chainID, 5_000, 1, 0)
	require.NoError(t, err)
	rb.nested = nestedTx
	rb.block = block2

	purchaseTx, err := buyer.Purchase(chainID, collection, assetID, 10_000, 0, 0)
	require.NoError(t, err)
	receipt, err = exec.ExecuteTx(block2, purchaseTx)
	require.NoError(t, err)
	require.True(t, receipt.OK, receipt.Error)

	// The nested withdrawal was admitted but its operation hit the guard.
	require.NoError(t, rb.nestedErr)
	require.NotNil(t, rb.nestedReceipt)
	require.False(t, rb.nestedReceipt.OK)
	assert.Contains(t, rb.nestedReceipt.Error, "reentrant")

	// The purchase settled exactly once and the withdrawal moved nothing.
	buyerAcc, _ := state.GetAccount(buyer.PubKey())
	assert.Equal(t, uint64(10_000), buyerAcc.Balance)
	assert.Equal(t, uint64(5_000), buyerAcc.Available)
	sellerAcc, _ := state.GetAccount(seller.PubKey())
	assert.Equal(t, uint64(9_750), sellerAcc.Balance)
	a, _ := state.GetAsset(collection, assetID)
	assert.Equal(t, buyer.PubKey(), a.Owner)
}
