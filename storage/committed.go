package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerekov/escrowchain/core"
)

// CommittedState is a read-only view over the persisted ledger. It reads the
// underlying DB directly and never consults a StateDB write buffer, so it
// only ever observes state that has been flushed by Commit. Query surfaces
// (RPC handlers) use it to serve requests concurrently with block production:
// the DB implementations are safe for concurrent use, while the StateDB
// buffer maps are owned by the sequencer goroutine alone.
type CommittedState struct {
	db DB
}

// NewCommittedState wraps db as a committed-only core.StateReader.
func NewCommittedState(db DB) *CommittedState {
	return &CommittedState{db: db}
}

func (c *CommittedState) getJSON(key string, out any) error {
	data, err := c.db.Get([]byte(key))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// GetAccount returns the committed account record, or a zero-value record for
// an address that has never been flushed.
func (c *CommittedState) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := c.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetWager returns the committed wager for key, or a zero-value
// Uninitialized record when none has been flushed.
func (c *CommittedState) GetWager(key string) (*core.Wager, error) {
	var w core.Wager
	err := c.getJSON(prefixWager+key, &w)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Wager{Key: key, Status: core.WagerUninitialized}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *CommittedState) GetListing(collection, assetID string) (*core.Listing, error) {
	var l core.Listing
	if err := c.getJSON(listingKey(collection, assetID), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *CommittedState) GetAsset(collection, assetID string) (*core.AssetRecord, error) {
	var a core.AssetRecord
	if err := c.getJSON(assetKey(collection, assetID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *CommittedState) FeePool() (uint64, error) {
	data, err := c.db.Get([]byte(keyFeePool))
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt fee pool value (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (c *CommittedState) Paused() (bool, error) {
	_, err := c.db.Get([]byte(keyPaused))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
