// Package storage implements Conductor's durable canonical state (spec
// §4.9, §6 "Persisted state layout") on go.etcd.io/bbolt, grounded on
// prysmaticlabs-prysm's beacon-chain/db bucket-per-namespace bbolt store and
// 2tbmz9y2xt-lang-rubin-protocol's node/store/db.go open/bucket-init
// pattern. Writes to canonical namespaces are write-once, keyed by their
// primary key, and reject a second write as ErrAlreadyCommitted/ErrConflict
// rather than silently overwriting.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/wire"
)

// Idempotency and seen-message records are deliberately NOT stored in these
// canonical bbolt buckets: both require wall-clock TTL bookkeeping (spec §6,
// §4.9), and spec §1/§3 forbid wall-clock timestamps in persisted state.
// They live in the purely in-memory caches in cache.go instead.
var (
	bucketBlock        = []byte("block")
	bucketDayProof     = []byte("day_proof")
	bucketBlacklist    = []byte("blacklist")
	bucketValidatorSet = []byte("validator_set")
	bucketMeta         = []byte("meta")
)

var metaKeyGenesisSeed = []byte("genesis_seed")
var metaKeyActiveSetPointer = []byte("active_set_pointer")

// ErrAlreadyCommitted is returned when a block commit is attempted twice for
// the same epoch (spec §4.6 step 7).
var ErrAlreadyCommitted = errors.New("storage: already committed")

// ErrConflict is returned when a canonical-namespace write would overwrite
// an existing record under the same primary key with different content
// (spec §4.9).
var ErrConflict = errors.New("storage: conflict")

// ErrNotFound is returned by reads that miss (spec §6 NOT_FOUND responses).
var ErrNotFound = errors.New("storage: not found")

// Store is the single logical key-value store described in spec §6.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and initializes
// every canonical namespace bucket.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlock, bucketDayProof, bucketBlacklist, bucketValidatorSet, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func epochKey(epoch model.Epoch) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, epoch)
	return b
}

func dayKey(day model.DayNumber) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, day)
	return b
}

// PutBlock persists Block{epoch} write-once (spec §3 "commit is write-once",
// §4.6 step 7). A second call for the same epoch with different content
// returns ErrAlreadyCommitted; an identical retry (e.g. after a crash right
// after commit) is treated as a success, matching the idempotent-submission
// semantics described for upward callers in spec §6.
func (s *Store) PutBlock(b model.Block) error {
	key := epochKey(b.Epoch)
	encoded, err := wire.Encode(blockRLP(b))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBlock)
		existing := bucket.Get(key)
		if existing != nil {
			if bytesEqual(existing, encoded) {
				return nil
			}
			return ErrAlreadyCommitted
		}
		return bucket.Put(key, encoded)
	})
}

// GetBlock returns the committed block for epoch, or ErrNotFound.
func (s *Store) GetBlock(epoch model.Epoch) (model.Block, error) {
	var out model.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlock).Get(epochKey(epoch))
		if raw == nil {
			return ErrNotFound
		}
		var r rlpBlock
		if err := wire.Decode(raw, &r); err != nil {
			return err
		}
		out = r.toBlock()
		return nil
	})
	return out, err
}

// PutCanonicalDayProof persists CanonicalDayProof{day} write-once (spec §3,
// §4.7 step 4).
func (s *Store) PutCanonicalDayProof(p model.CanonicalDayProof) error {
	key := dayKey(p.DayProof.DayNumber)
	encoded, err := wire.Encode(dayProofRLP(p))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDayProof)
		existing := bucket.Get(key)
		if existing != nil {
			if bytesEqual(existing, encoded) {
				return nil
			}
			return ErrConflict
		}
		return bucket.Put(key, encoded)
	})
}

// GetCanonicalDayProof returns the canonical day proof for day, or
// ErrNotFound.
func (s *Store) GetCanonicalDayProof(day model.DayNumber) (model.CanonicalDayProof, error) {
	var out model.CanonicalDayProof
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDayProof).Get(dayKey(day))
		if raw == nil {
			return ErrNotFound
		}
		var r rlpCanonicalDayProof
		if err := wire.Decode(raw, &r); err != nil {
			return err
		}
		out = r.toCanonicalDayProof()
		return nil
	})
	return out, err
}

// LatestDayNumber scans the day_proof namespace for the highest persisted
// day, used to re-derive orchestrator state on restart (spec §9 "crash
// restart recovery").
func (s *Store) LatestDayNumber() (model.DayNumber, bool, error) {
	var latest model.DayNumber
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDayProof).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		found = true
		latest = binary.BigEndian.Uint64(k)
		return nil
	})
	return latest, found, err
}

// LatestCommittedEpoch scans the block namespace for the highest persisted
// epoch (spec §9 restart recovery).
func (s *Store) LatestCommittedEpoch() (model.Epoch, bool, error) {
	var latest model.Epoch
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlock).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		found = true
		latest = binary.BigEndian.Uint64(k)
		return nil
	})
	return latest, found, err
}

// PutBlacklistEntry persists or updates a blacklist entry keyed by
// validator_id (spec §3, §4.10). Revocation (unblacklist) is the one
// permitted in-place update, since it flows through the same QC discipline
// as the original ballot.
func (s *Store) PutBlacklistEntry(e model.BlacklistEntry) error {
	encoded, err := wire.Encode(blacklistRLP(e))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBlacklist)
		existing := bucket.Get(e.ValidatorID.Bytes())
		if existing != nil && !bytesEqual(existing, encoded) && !e.Revoked {
			return ErrConflict
		}
		return bucket.Put(e.ValidatorID.Bytes(), encoded)
	})
}

// GetBlacklistEntry returns the blacklist entry for id, or ErrNotFound.
func (s *Store) GetBlacklistEntry(id fcommon.ValidatorID) (model.BlacklistEntry, error) {
	var out model.BlacklistEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlacklist).Get(id.Bytes())
		if raw == nil {
			return ErrNotFound
		}
		var r rlpBlacklistEntry
		if err := wire.Decode(raw, &r); err != nil {
			return err
		}
		out = r.toBlacklistEntry()
		return nil
	})
	return out, err
}

// PutGenesisSeed persists the genesis seed once, in the meta namespace
// (spec §6 "meta/ contains genesis seed").
func (s *Store) PutGenesisSeed(seed fcommon.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		existing := bucket.Get(metaKeyGenesisSeed)
		if existing != nil && !bytesEqual(existing, seed.Bytes()) {
			return ErrConflict
		}
		return bucket.Put(metaKeyGenesisSeed, seed.Bytes())
	})
}

// GenesisSeed returns the persisted genesis seed, or ErrNotFound.
func (s *Store) GenesisSeed() (fcommon.Hash, error) {
	var out fcommon.Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(metaKeyGenesisSeed)
		if raw == nil {
			return ErrNotFound
		}
		out = fcommon.BytesToHash(raw)
		return nil
	})
	return out, err
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
