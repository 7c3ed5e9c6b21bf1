// Package store persists the header chain, block bodies, and UTXO set to a
// single bbolt database (spec.md §4.9, C10): named trees `meta`, `headers`,
// `heights`, `work`, `utxo`, `blocks`, with a schema version and an
// integrity cross-check on load.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"go.utxod.dev/node/consensus"
)

// SchemaVersion is the current on-disk schema (spec.md §4.9).
const SchemaVersion uint32 = 2

var (
	bucketMeta    = []byte("meta")
	bucketHeaders = []byte("headers")
	bucketHeights = []byte("heights")
	bucketWork    = []byte("work")
	bucketUtxo    = []byte("utxo")
	bucketBlocks  = []byte("blocks")
)

var allBuckets = [][]byte{bucketMeta, bucketHeaders, bucketHeights, bucketWork, bucketUtxo, bucketBlocks}

const (
	metaKeySchemaVersion = "schema_version"
	metaKeyNetworkID     = "network_id"
	metaKeyTipHash       = "tip_hash"
	metaKeyTipHeight     = "tip_height"
	metaKeyUtxoCount     = "utxo_count"
)

// Store is the persistent header/block/UTXO database for one network.
// Safe for concurrent use; bbolt serializes writers internally.
type Store struct {
	chainDir string
	db       *bolt.DB
}

// Open opens (creating if absent) the database under datadir for networkID.
// A freshly created database is stamped with the current schema version and
// networkID; an existing one is validated against both, and its utxo_count
// is cross-checked against the observed bucket size (spec.md §4.9).
func Open(datadir string, networkID string) (*Store, error) {
	if networkID == "" {
		return nil, fmt.Errorf("store: network_id required")
	}
	chainDir := ChainDir(datadir, networkID)
	if err := ensureDir(chainDir); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(filepath.Join(chainDir, "kv.db"), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt: %w", err)
	}
	s := &Store{chainDir: chainDir, db: bdb}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get([]byte(metaKeySchemaVersion)) == nil {
			return initMetaLocked(tx, networkID)
		}
		return validateMetaLocked(tx, networkID)
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return s, nil
}

func initMetaLocked(tx *bolt.Tx, networkID string) error {
	meta := tx.Bucket(bucketMeta)
	if err := meta.Put([]byte(metaKeySchemaVersion), encodeU32(SchemaVersion)); err != nil {
		return err
	}
	if err := meta.Put([]byte(metaKeyNetworkID), []byte(networkID)); err != nil {
		return err
	}
	if err := meta.Put([]byte(metaKeyUtxoCount), encodeU64(0)); err != nil {
		return err
	}
	return nil
}

func validateMetaLocked(tx *bolt.Tx, networkID string) error {
	meta := tx.Bucket(bucketMeta)
	v := meta.Get([]byte(metaKeySchemaVersion))
	if len(v) != 4 {
		return fmt.Errorf("store: meta.schema_version malformed")
	}
	if got := binary.LittleEndian.Uint32(v); got != SchemaVersion {
		return fmt.Errorf("store: schema_version %d, want %d (run migration)", got, SchemaVersion)
	}
	netID := meta.Get([]byte(metaKeyNetworkID))
	if len(netID) == 0 {
		return fmt.Errorf("store: meta.network_id empty")
	}
	if string(netID) != networkID {
		return fmt.Errorf("store: network_id mismatch: db has %q, opened with %q", netID, networkID)
	}

	countBytes := meta.Get([]byte(metaKeyUtxoCount))
	if len(countBytes) != 8 {
		return fmt.Errorf("store: meta.utxo_count malformed")
	}
	want := binary.LittleEndian.Uint64(countBytes)
	got := uint64(tx.Bucket(bucketUtxo).Stats().KeyN)
	if got != want {
		return fmt.Errorf("store: utxo_count integrity check failed: meta says %d, observed %d", want, got)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ChainDir returns the directory this store's files live under.
func (s *Store) ChainDir() string { return s.chainDir }

// Tip returns the persisted best-tip hash and height, if one has been set.
func (s *Store) Tip() (hash [32]byte, height uint32, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		h := meta.Get([]byte(metaKeyTipHash))
		if len(h) != 32 {
			return nil
		}
		copy(hash[:], h)
		hb := meta.Get([]byte(metaKeyTipHeight))
		if len(hb) != 4 {
			return fmt.Errorf("store: meta.tip_height malformed")
		}
		height = binary.LittleEndian.Uint32(hb)
		ok = true
		return nil
	})
	return hash, height, ok, err
}

// SetTip persists the current best-tip hash and height.
func (s *Store) SetTip(hash [32]byte, height uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put([]byte(metaKeyTipHash), hash[:]); err != nil {
			return err
		}
		return meta.Put([]byte(metaKeyTipHeight), encodeU32(height))
	})
}

// PutHeader stores a header, its height, and its cumulative work.
func (s *Store) PutHeader(hash [32]byte, h consensus.BlockHeader, height uint32, work *big.Int) error {
	body, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("store: encode header: %w", err)
	}
	workBytes, err := encodeU128(work)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(hash[:], body); err != nil {
			return err
		}
		if err := tx.Bucket(bucketHeights).Put(hash[:], encodeU32(height)); err != nil {
			return err
		}
		return tx.Bucket(bucketWork).Put(hash[:], workBytes)
	})
}

// GetHeader loads a previously stored header.
func (s *Store) GetHeader(hash [32]byte) (consensus.BlockHeader, bool, error) {
	var h consensus.BlockHeader
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(hash[:])
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &h); err != nil {
			return fmt.Errorf("store: decode header: %w", err)
		}
		ok = true
		return nil
	})
	return h, ok, err
}

// GetHeight loads the height recorded for hash.
func (s *Store) GetHeight(hash [32]byte) (uint32, bool, error) {
	var height uint32
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeights).Get(hash[:])
		if v == nil {
			return nil
		}
		if len(v) != 4 {
			return fmt.Errorf("store: heights entry malformed")
		}
		height = binary.LittleEndian.Uint32(v)
		ok = true
		return nil
	})
	return height, ok, err
}

// GetWork loads the cumulative work recorded for hash.
func (s *Store) GetWork(hash [32]byte) (*big.Int, bool, error) {
	var work *big.Int
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketWork).Get(hash[:])
		if v == nil {
			return nil
		}
		w, err := decodeU128(v)
		if err != nil {
			return err
		}
		work = w
		ok = true
		return nil
	})
	return work, ok, err
}

// PutBlock stores a full block body.
func (s *Store) PutBlock(hash [32]byte, b *consensus.Block) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("store: encode block: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(hash[:], body)
	})
}

// GetBlock loads a previously stored block body.
func (s *Store) GetBlock(hash [32]byte) (*consensus.Block, bool) {
	var b *consensus.Block
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(hash[:])
		if v == nil {
			return nil
		}
		var blk consensus.Block
		if err := json.Unmarshal(v, &blk); err != nil {
			return nil
		}
		b = &blk
		return nil
	})
	return b, b != nil
}

// Block satisfies reorg.BlockSource and p2p.BlockStore by delegating to
// GetBlock.
func (s *Store) Block(hash [32]byte) (*consensus.Block, bool) {
	return s.GetBlock(hash)
}

// Put satisfies p2p.BlockStore by delegating to PutBlock. The interface's
// signature has no error result, so a write failure is discarded: it is
// neither returned nor logged.
func (s *Store) Put(hash [32]byte, b *consensus.Block) {
	_ = s.PutBlock(hash, b)
}

// HeaderAt satisfies reorg.ChainView directly from disk.
func (s *Store) HeaderAt(hash [32]byte) (consensus.BlockHeader, uint64, bool) {
	h, ok, err := s.GetHeader(hash)
	if err != nil || !ok {
		return consensus.BlockHeader{}, 0, false
	}
	height, ok, err := s.GetHeight(hash)
	if err != nil || !ok {
		return consensus.BlockHeader{}, 0, false
	}
	return h, uint64(height), true
}

// HeaderEntry is one persisted header plus the height it was accepted at,
// as returned by AllHeaders.
type HeaderEntry struct {
	Hash   [32]byte
	Header consensus.BlockHeader
	Height uint32
}

// AllHeaders returns every persisted header ordered by ascending height, so
// a caller can replay them into a fresh chain.Chain with each header's
// parent already present (spec.md §4.9's restart path: the header DAG
// itself is kept in memory and rebuilt from the headers/heights trees on
// startup).
func (s *Store) AllHeaders() ([]HeaderEntry, error) {
	var out []HeaderEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).ForEach(func(hashBytes, body []byte) error {
			if len(hashBytes) != 32 {
				return fmt.Errorf("store: malformed header key")
			}
			var h consensus.BlockHeader
			if err := json.Unmarshal(body, &h); err != nil {
				return fmt.Errorf("store: decode header: %w", err)
			}
			heightBytes := tx.Bucket(bucketHeights).Get(hashBytes)
			if len(heightBytes) != 4 {
				return fmt.Errorf("store: heights entry missing for a stored header")
			}
			var entry HeaderEntry
			copy(entry.Hash[:], hashBytes)
			entry.Header = h
			entry.Height = binary.LittleEndian.Uint32(heightBytes)
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out, nil
}

func encodeU32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// encodeU128 little-endian encodes a non-negative cumulative-work value into
// 16 bytes (spec.md §4.9's work tree).
func encodeU128(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("store: work must be non-negative")
	}
	be := v.Bytes() // big-endian, no leading zero byte
	if len(be) > 16 {
		return nil, fmt.Errorf("store: work exceeds u128")
	}
	out := make([]byte, 16)
	for i, b := range be {
		out[len(be)-1-i] = b
	}
	return out, nil
}

func decodeU128(b []byte) (*big.Int, error) {
	if len(b) != 16 {
		return nil, fmt.Errorf("store: work entry malformed")
	}
	be := make([]byte, 16)
	for i, c := range b {
		be[15-i] = c
	}
	return new(big.Int).SetBytes(be), nil
}
