package nft

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
)

func init() {
	engine.Register(core.TxRegisterAsset, handleRegisterAsset)
	engine.Register(core.TxSetApproval, handleSetApproval)
}

// handleRegisterAsset mints an asset record. Only the chain admin may
// register assets on behalf of arbitrary owners; anyone may register an
// asset to themselves.
func handleRegisterAsset(ctx *engine.Context, payload json.RawMessage) error {
	var p core.RegisterAssetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	if p.Collection == "" || p.AssetID == "" {
		return fmt.Errorf("%w: collection and asset id required", core.ErrInvalidPayload)
	}
	owner := p.Owner
	if owner == "" {
		owner = ctx.Tx.From
	}
	if owner != ctx.Tx.From {
		if err := ctx.RequireAdmin(); err != nil {
			return err
		}
	}

	if _, err := ctx.State.GetAsset(p.Collection, p.AssetID); err == nil {
		return fmt.Errorf("%w: asset %s/%s", core.ErrAlreadyExists, p.Collection, p.AssetID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	if err := ctx.State.SetAsset(&core.AssetRecord{
		Collection: p.Collection,
		AssetID:    p.AssetID,
		Owner:      owner,
	}); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetRegistered, map[string]any{
		"collection": p.Collection,
		"asset_id":   p.AssetID,
		"owner":      owner,
	})
	return nil
}

// handleSetApproval grants or revokes the right to move assets. With All set
// the grant is a blanket operator approval covering every asset of the
// caller; otherwise it targets one asset, which the caller must own.
func handleSetApproval(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SetApprovalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	if p.Operator == "" {
		return fmt.Errorf("%w: operator required", core.ErrInvalidPayload)
	}

	if p.All {
		if err := ctx.State.SetOperator(ctx.Tx.From, p.Operator, p.Approved); err != nil {
			return err
		}
	} else {
		a, err := ctx.State.GetAsset(p.Collection, p.AssetID)
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("%w: asset %s/%s", core.ErrNotFound, p.Collection, p.AssetID)
		}
		if err != nil {
			return err
		}
		if a.Owner != ctx.Tx.From {
			return fmt.Errorf("%w: only the owner may approve %s/%s", core.ErrNotAuthorized, p.Collection, p.AssetID)
		}
		if p.Approved {
			if a.Approvals == nil {
				a.Approvals = make(map[string]bool)
			}
			a.Approvals[p.Operator] = true
		} else {
			delete(a.Approvals, p.Operator)
		}
		if err := ctx.State.SetAsset(a); err != nil {
			return err
		}
	}

	ctx.Emit(events.EventApprovalSet, map[string]any{
		"owner":      ctx.Tx.From,
		"operator":   p.Operator,
		"collection": p.Collection,
		"asset_id":   p.AssetID,
		"all":        p.All,
		"approved":   p.Approved,
	})
	return nil
}
