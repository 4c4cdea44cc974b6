// Package nft is the production adapter behind the core.AssetRegistry
// capability. It keeps ownership and approval records in chain state so that
// asset movements participate in the same snapshot/rollback discipline as
// balance mutations. It is deliberately not a token standard: registration,
// approval, and transfer are the whole surface.
package nft

import (
	"errors"
	"fmt"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/events"
)

// Registry implements core.AssetRegistry on top of the ledger state.
type Registry struct {
	state   core.State
	emitter *events.Emitter
}

// NewRegistry creates a Registry over state. emitter may be nil.
func NewRegistry(state core.State, emitter *events.Emitter) *Registry {
	return &Registry{state: state, emitter: emitter}
}

// OwnerOf returns the current owner of the asset.
func (r *Registry) OwnerOf(collection, assetID string) (string, error) {
	a, err := r.state.GetAsset(collection, assetID)
	if errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("asset %s/%s not registered: %w", collection, assetID, err)
	}
	if err != nil {
		return "", err
	}
	return a.Owner, nil
}

// IsApproved reports whether operator may move the asset, either via a
// per-asset approval or a blanket grant from the current owner.
func (r *Registry) IsApproved(collection, assetID, operator string) (bool, error) {
	a, err := r.state.GetAsset(collection, assetID)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if a.Approvals[operator] {
		return true, nil
	}
	return r.state.GetOperator(a.Owner, operator)
}

// Transfer moves the asset from `from` to `to`. It fails when `from` is not
// the current owner. Per-asset approvals are cleared on transfer; blanket
// grants belong to the old owner and simply stop matching.
func (r *Registry) Transfer(collection, assetID, from, to string) error {
	if to == "" {
		return errors.New("transfer recipient required")
	}
	a, err := r.state.GetAsset(collection, assetID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("asset %s/%s not registered", collection, assetID)
	}
	if err != nil {
		return err
	}
	if a.Owner != from {
		return fmt.Errorf("asset %s/%s is owned by %s, not %s", collection, assetID, a.Owner, from)
	}

	a.Owner = to
	a.Approvals = nil
	if err := r.state.SetAsset(a); err != nil {
		return err
	}

	if r.emitter != nil {
		r.emitter.Emit(events.Event{
			Type: events.EventAssetTransferred,
			Data: map[string]any{
				"collection": collection,
				"asset_id":   assetID,
				"from":       from,
				"to":         to,
			},
		})
	}
	return nil
}

// Register records a new asset. Used by genesis seeding and the
// register_asset transaction handler.
func (r *Registry) Register(collection, assetID, owner string) error {
	if owner == "" {
		return errors.New("asset owner required")
	}
	if _, err := r.state.GetAsset(collection, assetID); err == nil {
		return fmt.Errorf("asset %s/%s already registered", collection, assetID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return r.state.SetAsset(&core.AssetRecord{
		Collection: collection,
		AssetID:    assetID,
		Owner:      owner,
	})
}
