// Package memleaf implements the terminal memory backend (§5 "memory
// backend"): the bottom of the hierarchy below the outermost cache level,
// answering every acquire with a block and absorbing every writeback.
// Backed by an in-memory badger.DB so page storage gets real get/set/scan
// semantics (and the option to persist later) instead of a hand-rolled map,
// adapted from this module's disk-backed store example.
package memleaf

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
)

// Memory is the simple memory model of the original design: one 64-byte
// block per key, zero-initialized on first touch, with no per-page sharing
// tracked (it has no children of its own to probe).
type Memory struct {
	db  *badger.DB
	log *zap.Logger
}

// New opens an in-memory badger store to back the terminal memory level.
func New(log *zap.Logger) (*Memory, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Memory{db: db, log: log}, nil
}

// Close releases the underlying store.
func (m *Memory) Close() error { return m.db.Close() }

func key(addr uint64) []byte {
	blk := addr &^ 0x3F
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, blk)
	return b
}

func (m *Memory) load(addr uint64) *meta.Data {
	d := &meta.Data{}
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(addr))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			d.CopyFrom(val)
			return nil
		})
	})
	if err != nil {
		m.log.Error("memleaf: read failed", zap.Uint64("addr", addr), zap.Error(err))
	}
	return d
}

func (m *Memory) store(addr uint64, d *meta.Data) {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(addr), append([]byte(nil), d.Bytes()...))
	})
	if err != nil {
		m.log.Error("memleaf: write failed", zap.Uint64("addr", addr), zap.Error(err))
	}
}

// AcquireResp answers every acquire with the addressed block, zero-filled
// if never written, exactly as requested (memory never changes coherence
// state, so the granted command equals the request).
func (m *Memory) AcquireResp(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd) {
	return m.load(addr), cmd
}

// WritebackResp persists a dirty block evicted from the outermost cache
// level.
func (m *Memory) WritebackResp(cmd policy.Cmd, addr uint64, data *meta.Data) {
	if data == nil {
		return
	}
	m.store(addr, data)
}

// ProbeResp is never meaningfully invoked (memory has no children to probe)
// but is implemented to satisfy port.Port.
func (m *Memory) ProbeResp(cmd policy.Cmd, addr uint64) (bool, bool, *meta.Data) {
	return false, false, nil
}

// FinishResp is a no-op: memory never holds a line lock pending a finish.
func (m *Memory) FinishResp(cmd policy.Cmd, addr uint64) {}
