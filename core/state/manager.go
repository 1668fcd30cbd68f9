package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stablevault/storage"
)

var (
	errNilDatabase    = errors.New("state: database not configured")
	errEmptyKey       = errors.New("state: key must not be empty")
	errInvalidSnap    = errors.New("state: invalid snapshot identifier")
	errUint256Overflw = errors.New("state: stored value exceeds 256 bits")
)

type entry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    entry
	hadPrev bool
}

// Manager is a journaled key-value view over a storage backend. Writes are
// buffered in memory; Snapshot/RevertToSnapshot undo them in reverse order
// and Commit flushes the surviving writes to the backend in a single batch.
//
// Keys are keccak256-hashed before they reach the backend and values are RLP
// encoded. Manager is not safe for concurrent use.
type Manager struct {
	db      storage.Database
	dirty   map[string]entry
	journal []journalEntry
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]entry)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, errNilDatabase
	}
	if cached, ok := m.dirty[string(hashed)]; ok {
		if cached.deleted {
			return nil, false, nil
		}
		return cached.value, true, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) write(hashed []byte, next entry) {
	key := string(hashed)
	prev, hadPrev := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadPrev: hadPrev})
	m.dirty[key] = next
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether a value was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKey
	}
	data, ok, err := m.read(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut encodes value and stages it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	if len(key) == 0 {
		return errEmptyKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.write(kvKey(key), entry{value: encoded})
	return nil
}

// KVDelete stages the removal of key.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	if len(key) == 0 {
		return errEmptyKey
	}
	m.write(kvKey(key), entry{deleted: true})
	return nil
}

// Uint256 loads an unsigned 256-bit amount. Missing keys read as zero.
func (m *Manager) Uint256(key []byte) (*uint256.Int, error) {
	stored := new(big.Int)
	ok, err := m.KVGet(key, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	value, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, errUint256Overflw
	}
	return value, nil
}

// SetUint256 stages an unsigned 256-bit amount. Zero amounts delete the key
// so drained balances do not linger in the backend.
func (m *Manager) SetUint256(key []byte, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return m.KVDelete(key)
	}
	return m.KVPut(key, value.ToBig())
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	if m == nil {
		return 0
	}
	return len(m.journal)
}

// RevertToSnapshot undoes every write staged after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if m == nil {
		return
	}
	if id < 0 || id > len(m.journal) {
		panic(errInvalidSnap)
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		undo := m.journal[i]
		if undo.hadPrev {
			m.dirty[undo.key] = undo.prev
		} else {
			delete(m.dirty, undo.key)
		}
	}
	m.journal = m.journal[:id]
}

// Commit flushes all staged writes to the backend atomically and resets the
// journal. Pending snapshots are invalidated.
func (m *Manager) Commit() error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, key := range keys {
		staged := m.dirty[key]
		if staged.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), staged.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]entry)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every staged write without touching the backend.
func (m *Manager) Discard() {
	if m == nil {
		return
	}
	m.dirty = make(map[string]entry)
	m.journal = m.journal[:0]
}

// Pending reports the number of keys with staged writes.
func (m *Manager) Pending() int {
	if m == nil {
		return 0
	}
	return len(m.dirty)
}
