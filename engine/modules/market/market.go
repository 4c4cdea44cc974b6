// Package market implements the asset listing engine: fixed-price listings
// of registry assets, atomic swap-for-payment with a platform fee skim, and
// the stale-ownership and reentrancy defenses around the purchase path.
package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
)

func init() {
	engine.Register(core.TxListItem, handleList)
	engine.Register(core.TxDelistItem, handleDelist)
	engine.Register(core.TxPurchaseItem, handlePurchase)
	engine.Register(core.TxUpdatePrice, handleUpdatePrice)
	engine.Register(core.TxUpdateMetadata, handleUpdateMetadata)
}

func handleList(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireUnpaused(); err != nil {
		return err
	}

	var p core.ListItemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode list_item payload: %w", err)
	}
	if p.Price == 0 {
		return fmt.Errorf("%w: price must be > 0", core.ErrInvalidPrice)
	}

	approved, err := ctx.State.IsCollectionApproved(p.Collection)
	if err != nil {
		return err
	}
	if !approved {
		return fmt.Errorf("%w: %s", core.ErrCollectionNotApproved, p.Collection)
	}

	if _, err := ctx.State.GetListing(p.Collection, p.AssetID); err == nil {
		return fmt.Errorf("%w: %s/%s", core.ErrAlreadyListed, p.Collection, p.AssetID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	owner, err := ctx.Assets.OwnerOf(p.Collection, p.AssetID)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNotOwner, err)
	}
	if owner != ctx.Tx.From {
		return fmt.Errorf("%w: %s/%s belongs to %s", core.ErrNotOwner, p.Collection, p.AssetID, owner)
	}

	ok, err := ctx.Assets.IsApproved(p.Collection, p.AssetID, core.MarketOperator)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: grant the market transfer approval first", core.ErrNotApproved)
	}

	l := &core.Listing{
		Collection: p.Collection,
		AssetID:    p.AssetID,
		Seller:     ctx.Tx.From,
		Price:      p.Price,
		Metadata:   p.Metadata,
		CreatedAt:  ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetListing(l); err != nil {
		return err
	}

	ctx.Emit(events.EventItemListed, map[string]any{
		"collection": p.Collection,
		"asset_id":   p.AssetID,
		"seller":     ctx.Tx.From,
		"price":      p.Price,
	})
	return nil
}

// loadSellerListing fetches a listing and authorizes the caller as its
// seller, then re-verifies the seller still owns the asset. A listing whose
// seller lost ownership out-of-band is purged and the operation fails with
// SellerNoLongerOwnsItem; the purge itself is committed (engine.NoRevert)
// so the dead record does not linger.
func loadSellerListing(ctx *engine.Context, collection, assetID string) (*core.Listing, error) {
	l, err := ctx.State.GetListing(collection, assetID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrNotListed, collection, assetID)
	}
	if err != nil {
		return nil, err
	}
	if l.Seller != ctx.Tx.From {
		return nil, fmt.Errorf("%w: listing belongs to %s", core.ErrNotSeller, l.Seller)
	}
	if err := verifySellerOwnership(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// verifySellerOwnership purges the listing and fails when the seller no
// longer owns the asset.
func verifySellerOwnership(ctx *engine.Context, l *core.Listing) error {
	owner, err := ctx.Assets.OwnerOf(l.Collection, l.AssetID)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSellerNoLongerOwnsItem, err)
	}
	if owner != l.Seller {
		if err := ctx.State.DeleteListing(l.Collection, l.AssetID); err != nil {
			return err
		}
		ctx.Emit(events.EventItemDelisted, map[string]any{
			"collection": l.Collection,
			"asset_id":   l.AssetID,
			"seller":     l.Seller,
			"reason":     "stale_ownership",
		})
		return engine.NoRevert(fmt.Errorf("%w: %s/%s", core.ErrSellerNoLongerOwnsItem, l.Collection, l.AssetID))
	}
	return nil
}

func handleDelist(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireUnpaused(); err != nil {
		return err
	}

	var p core.DelistItemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode delist_item payload: %w", err)
	}

	l, err := loadSellerListing(ctx, p.Collection, p.AssetID)
	if err != nil {
		return err
	}

	if err := ctx.State.DeleteListing(l.Collection, l.AssetID); err != nil {
		return err
	}

	ctx.Emit(events.EventItemDelisted, map[string]any{
		"collection": l.Collection,
		"asset_id":   l.AssetID,
		"seller":     l.Seller,
	})
	return nil
}

func handlePurchase(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireUnpaused(); err != nil {
		return err
	}
	// The asset transfer and the seller payment can both call back into the
	// ledger; latch before touching anything.
	if err := ctx.EnterGuard(); err != nil {
		return err
	}
	defer ctx.ExitGuard()

	var p core.PurchaseItemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode purchase_item payload: %w", err)
	}

	// ---- checks ----
	l, err := ctx.State.GetListing(p.Collection, p.AssetID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", core.ErrNotListed, p.Collection, p.AssetID)
	}
	if err != nil {
		return err
	}
	if l.Seller == ctx.Tx.From {
		return core.ErrSelfPurchase
	}
	if p.Payment != l.Price {
		return fmt.Errorf("%w: price is %d, payment was %d", core.ErrIncorrectPaymentAmount, l.Price, p.Payment)
	}
	if err := verifySellerOwnership(ctx, l); err != nil {
		return err
	}
	ok, err := ctx.Assets.IsApproved(l.Collection, l.AssetID, core.MarketOperator)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: market approval lapsed", core.ErrNotApproved)
	}

	buyer, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if buyer.Balance < p.Payment {
		return fmt.Errorf("%w: have %d need %d", core.ErrInsufficientFunds, buyer.Balance, p.Payment)
	}

	// ---- effects ----
	// Capture seller and price, then delete the listing before any external
	// call. A reentrant call during the transfer or the payout sees no
	// listing and cannot re-purchase profitably.
	seller, price := l.Seller, l.Price

	if err := ctx.State.DeleteListing(l.Collection, l.AssetID); err != nil {
		return err
	}
	buyer.Balance -= p.Payment
	if err := ctx.State.SetAccount(buyer); err != nil {
		return err
	}

	params, err := ctx.State.FeeParams()
	if err != nil {
		return err
	}
	fee, err := core.FeeFor(price, params.MarketFeeBps)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidPrice, err)
	}

	pool, err := ctx.State.FeePool()
	if err != nil {
		return err
	}
	if err := ctx.State.SetFeePool(pool + fee); err != nil {
		return err
	}

	// ---- interactions ----
	if err := ctx.Assets.Transfer(l.Collection, l.AssetID, seller, ctx.Tx.From); err != nil {
		return fmt.Errorf("%w: asset transfer: %v", core.ErrTransferFailed, err)
	}
	if err := ctx.Bank.Pay(seller, price-fee); err != nil {
		return fmt.Errorf("%w: seller payout: %v", core.ErrTransferFailed, err)
	}

	ctx.Emit(events.EventItemSold, map[string]any{
		"collection": l.Collection,
		"asset_id":   l.AssetID,
		"seller":     seller,
		"buyer":      ctx.Tx.From,
		"price":      price,
		"fee":        fee,
	})
	return nil
}

func handleUpdatePrice(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireUnpaused(); err != nil {
		return err
	}

	var p core.UpdatePricePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode update_price payload: %w", err)
	}
	if p.NewPrice == 0 {
		return fmt.Errorf("%w: price must be > 0", core.ErrInvalidPrice)
	}

	l, err := loadSellerListing(ctx, p.Collection, p.AssetID)
	if err != nil {
		return err
	}
	if l.Price == p.NewPrice {
		return nil // nothing to do, skip the event
	}

	old := l.Price
	l.Price = p.NewPrice
	if err := ctx.State.SetListing(l); err != nil {
		return err
	}

	ctx.Emit(events.EventPriceUpdated, map[string]any{
		"collection": l.Collection,
		"asset_id":   l.AssetID,
		"old_price":  old,
		"new_price":  l.Price,
	})
	return nil
}

func handleUpdateMetadata(ctx *engine.Context, payload json.RawMessage) error {
	if err := ctx.RequireUnpaused(); err != nil {
		return err
	}

	var p core.UpdateMetadataPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode update_metadata payload: %w", err)
	}

	l, err := loadSellerListing(ctx, p.Collection, p.AssetID)
	if err != nil {
		return err
	}
	if l.Metadata == p.NewMetadata {
		return nil
	}

	old := l.Metadata
	l.Metadata = p.NewMetadata
	if err := ctx.State.SetListing(l); err != nil {
		return err
	}

	ctx.Emit(events.EventMetadataUpdated, map[string]any{
		"collection":   l.Collection,
		"asset_id":     l.AssetID,
		"old_metadata": old,
		"new_metadata": l.Metadata,
	})
	return nil
}
