package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared via
// this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated by registerPrefix() below. ComputeRoot()
// iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount    = registerPrefix("acct:")
	prefixWager      = registerPrefix("wager:")
	prefixListing    = registerPrefix("listg:")
	prefixAsset      = registerPrefix("asset:")
	prefixOperator   = registerPrefix("oper:")
	prefixCollection = registerPrefix("coll:")
	prefixMeta       = registerPrefix("meta:")
)

// Singleton keys under the meta prefix.
var (
	keyAdmin     = prefixMeta + "admin"
	keyPaused    = prefixMeta + "paused"
	keyFeePool   = prefixMeta + "feepool"
	keyFeeParams = prefixMeta + "feeparams"
)

func listingKey(collection, assetID string) string {
	return prefixListing + collection + "/" + assetID
}

func assetKey(collection, assetID string) string {
	return prefixAsset + collection + "/" + assetID
}

func operatorKey(owner, operator string) string {
	return prefixOperator + owner + "/" + operator
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with an in-memory write
// buffer, snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, out any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

// GetAccount returns a fresh copy of the account, or a zero-value record for
// an address that has never been written. Accounts are created implicitly on
// first write and never deleted.
func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Wager ----

// GetWager returns the wager for key, or a zero-value Uninitialized record
// when none exists. Uninitialized is a first-class state in the wager
// lifecycle, so absence is not an error.
func (s *StateDB) GetWager(key string) (*core.Wager, error) {
	var w core.Wager
	err := s.getJSON(prefixWager+key, &w)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Wager{Key: key, Status: core.WagerUninitialized}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *StateDB) SetWager(w *core.Wager) error {
	return s.setJSON(prefixWager+w.Key, w)
}

// ---- Listing ----

func (s *StateDB) GetListing(collection, assetID string) (*core.Listing, error) {
	var l core.Listing
	if err := s.getJSON(listingKey(collection, assetID), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *StateDB) SetListing(l *core.Listing) error {
	return s.setJSON(listingKey(l.Collection, l.AssetID), l)
}

func (s *StateDB) DeleteListing(collection, assetID string) error {
	s.del(listingKey(collection, assetID))
	return nil
}

// ---- Asset registry records ----

func (s *StateDB) GetAsset(collection, assetID string) (*core.AssetRecord, error) {
	var a core.AssetRecord
	if err := s.getJSON(assetKey(collection, assetID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAsset(a *core.AssetRecord) error {
	return s.setJSON(assetKey(a.Collection, a.AssetID), a)
}

func (s *StateDB) GetOperator(owner, operator string) (bool, error) {
	_, err := s.get(operatorKey(owner, operator))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *StateDB) SetOperator(owner, operator string, approved bool) error {
	key := operatorKey(owner, operator)
	if approved {
		s.set(key, []byte{1})
	} else {
		s.del(key)
	}
	return nil
}

// ---- Collection allow-list ----

func (s *StateDB) IsCollectionApproved(collection string) (bool, error) {
	_, err := s.get(prefixCollection + collection)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *StateDB) SetCollectionApproved(collection string, approved bool) error {
	key := prefixCollection + collection
	if approved {
		s.set(key, []byte{1})
	} else {
		s.del(key)
	}
	return nil
}

// ---- Global singletons ----

func (s *StateDB) Admin() (string, error) {
	data, err := s.get(keyAdmin)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil // unset on a fresh chain; genesis must set it
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *StateDB) SetAdmin(address string) error {
	s.set(keyAdmin, []byte(address))
	return nil
}

func (s *StateDB) Paused() (bool, error) {
	_, err := s.get(keyPaused)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *StateDB) SetPaused(paused bool) error {
	if paused {
		s.set(keyPaused, []byte{1})
	} else {
		s.del(keyPaused)
	}
	return nil
}

func (s *StateDB) FeePool() (uint64, error) {
	data, err := s.get(keyFeePool)
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

func (s *StateDB) SetFeePool(amount uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], amount)
	s.set(keyFeePool, buf[:])
	return nil
}

func (s *StateDB) FeeParams() (*core.FeeParams, error) {
	var p core.FeeParams
	err := s.getJSON(keyFeeParams, &p)
	if errors.Is(err, core.ErrNotFound) {
		return &core.FeeParams{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetFeeParams(p *core.FeeParams) error {
	return s.setJSON(keyFeeParams, p)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state:
// all persisted entries under the registered prefixes, merged with the
// in-memory write buffer, minus deletions, hashed as sorted length-prefixed
// key-value pairs. It does not flush or modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it. Call ComputeRoot() first to obtain the root for
// the block header, and Commit() only after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
