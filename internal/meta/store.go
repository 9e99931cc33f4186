package meta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/types"
	"github.com/nats-io/nuid"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store is the durable home of system, pool, tier, tiering policy and bucket
// documents. Readers get an immutable materialized view; Commit applies a set
// of changes all-or-nothing and then republishes the view.
type Store interface {
	// System returns the current resolved view of a system. The returned value
	// is shared and must not be modified.
	System(systemID string) (*types.System, error)
	Commit(ctx context.Context, changes Changes) error
	GenerateID() string
	Ping() error
	Close() error
}

// BoltStore implements Store using bbolt (BoltDB).
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger

	mu      sync.Mutex // serializes commit and snapshot swap
	current atomic.Pointer[snapshot]
}

// NewBoltStore opens or creates a BoltDB config store and loads its snapshot.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.reload(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	return s, nil
}

func (s *BoltStore) initSchema() error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if v := sys.Get(keySchemaVersion); v == nil {
			if err := sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion)); err != nil {
				return err
			}
		}
		for _, name := range [][]byte{collSystems, collPools, collTiers, collTieringPolicies, collBuckets} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return s.Migrate()
}

// GenerateID returns a new unique document id.
func (s *BoltStore) GenerateID() string {
	return nuid.Next()
}

func (s *BoltStore) System(systemID string) (*types.System, error) {
	snap := s.current.Load()
	sys, ok := snap.systems[systemID]
	if !ok {
		return nil, fmt.Errorf("system %q: %w", systemID, ErrNotFound)
	}
	return sys, nil
}

// Commit applies changes in a single bbolt transaction. A conflict or a
// dangling reference aborts the whole transaction.
func (s *BoltStore) Commit(ctx context.Context, changes Changes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if changes.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return (&commitTx{tx: tx}).apply(changes)
	}); err != nil {
		return err
	}

	if err := s.reload(); err != nil {
		return fmt.Errorf("reloading snapshot: %w", err)
	}
	return nil
}

func (s *BoltStore) reload() error {
	var snap *snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		d, err := readDocs(tx)
		if err != nil {
			return err
		}
		snap = buildSnapshot(d, s.logger)
		return nil
	})
	if err != nil {
		return err
	}
	s.current.Store(snap)
	return nil
}

func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// commitTx validates and writes one Changes set inside a bbolt transaction.
type commitTx struct {
	tx *bbolt.Tx
}

func (c *commitTx) apply(ch Changes) error {
	for _, doc := range ch.Insert.Systems {
		if err := c.insertSystem(doc); err != nil {
			return err
		}
	}
	for _, doc := range ch.Insert.Pools {
		if err := c.insertPool(doc); err != nil {
			return err
		}
	}
	for _, doc := range ch.Insert.Tiers {
		if err := c.insertTier(doc); err != nil {
			return err
		}
	}
	for _, doc := range ch.Insert.TieringPolicies {
		if err := c.insertPolicy(doc); err != nil {
			return err
		}
	}
	for _, doc := range ch.Insert.Buckets {
		if err := c.insertBucket(doc); err != nil {
			return err
		}
	}
	for _, p := range ch.Update.Tiers {
		if err := c.updateTier(p); err != nil {
			return err
		}
	}
	for _, p := range ch.Update.Buckets {
		if err := c.updateBucket(p); err != nil {
			return err
		}
	}
	for _, r := range []struct {
		coll []byte
		ids  []string
	}{
		{collPools, ch.Remove.Pools},
		{collTiers, ch.Remove.Tiers},
		{collTieringPolicies, ch.Remove.TieringPolicies},
		{collBuckets, ch.Remove.Buckets},
	} {
		for _, id := range r.ids {
			if err := c.remove(r.coll, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *commitTx) put(coll []byte, id string, doc interface{}) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	return c.tx.Bucket(coll).Put([]byte(id), data)
}

func (c *commitTx) get(coll []byte, id string, doc interface{}) error {
	raw := c.tx.Bucket(coll).Get([]byte(id))
	if raw == nil {
		return fmt.Errorf("%s %q: %w", coll, id, ErrNotFound)
	}
	return decodeDoc(raw, doc)
}

func (c *commitTx) checkNewID(coll []byte, id string) error {
	if id == "" {
		return fmt.Errorf("%s: missing document id", coll)
	}
	if c.tx.Bucket(coll).Get([]byte(id)) != nil {
		return fmt.Errorf("%s %q already exists: %w", coll, id, ErrConflict)
	}
	return nil
}

// checkUniqueName rejects a second document with the same name in a system.
func (c *commitTx) checkUniqueName(coll []byte, system, name, selfID string) error {
	return c.tx.Bucket(coll).ForEach(func(k, v []byte) error {
		if string(k) == selfID {
			return nil
		}
		var doc struct {
			System string `json:"system"`
			Name   string `json:"name"`
		}
		if err := decodeDoc(v, &doc); err != nil {
			return err
		}
		if doc.System == system && doc.Name == name {
			return fmt.Errorf("%s name %q already used in system %q: %w", coll, name, system, ErrConflict)
		}
		return nil
	})
}

func (c *commitTx) checkSystem(id string) error {
	if c.tx.Bucket(collSystems).Get([]byte(id)) == nil {
		return fmt.Errorf("system %q: %w", id, ErrNotFound)
	}
	return nil
}

func (c *commitTx) checkPoolRefs(system string, ids []string) error {
	for _, id := range ids {
		var pool PoolDoc
		if err := c.get(collPools, id, &pool); err != nil {
			return err
		}
		if pool.System != system {
			return fmt.Errorf("pool %q belongs to system %q, not %q: %w", id, pool.System, system, ErrNotFound)
		}
	}
	return nil
}

func (c *commitTx) insertSystem(doc SystemDoc) error {
	if err := c.checkNewID(collSystems, doc.ID); err != nil {
		return err
	}
	return c.put(collSystems, doc.ID, doc)
}

func (c *commitTx) insertPool(doc PoolDoc) error {
	if err := c.checkNewID(collPools, doc.ID); err != nil {
		return err
	}
	if err := c.checkSystem(doc.System); err != nil {
		return err
	}
	if err := c.checkUniqueName(collPools, doc.System, doc.Name, doc.ID); err != nil {
		return err
	}
	return c.put(collPools, doc.ID, doc)
}

func (c *commitTx) insertTier(doc TierDoc) error {
	if err := c.checkNewID(collTiers, doc.ID); err != nil {
		return err
	}
	if err := c.checkSystem(doc.System); err != nil {
		return err
	}
	if err := c.checkUniqueName(collTiers, doc.System, doc.Name, doc.ID); err != nil {
		return err
	}
	if err := c.checkPoolRefs(doc.System, doc.Pools); err != nil {
		return err
	}
	return c.put(collTiers, doc.ID, doc)
}

func (c *commitTx) insertPolicy(doc PolicyDoc) error {
	if err := c.checkNewID(collTieringPolicies, doc.ID); err != nil {
		return err
	}
	if err := c.checkSystem(doc.System); err != nil {
		return err
	}
	if err := c.checkUniqueName(collTieringPolicies, doc.System, doc.Name, doc.ID); err != nil {
		return err
	}
	for _, t := range doc.Tiers {
		var tier TierDoc
		if err := c.get(collTiers, t.Tier, &tier); err != nil {
			return err
		}
	}
	if err := c.put(collTieringPolicies, doc.ID, doc); err != nil {
		return err
	}
	return c.bindWaitingBuckets(doc)
}

// bindWaitingBuckets points every bucket declared with the policy's name at
// it, unless the bucket is already bound to a policy that still exists.
func (c *commitTx) bindWaitingBuckets(policy PolicyDoc) error {
	var waiting []BucketDoc
	err := c.tx.Bucket(collBuckets).ForEach(func(_, v []byte) error {
		var b BucketDoc
		if err := decodeDoc(v, &b); err != nil {
			return err
		}
		if b.System != policy.System || b.PolicyName != policy.Name {
			return nil
		}
		if b.Tiering != "" && c.tx.Bucket(collTieringPolicies).Get([]byte(b.Tiering)) != nil {
			return nil
		}
		waiting = append(waiting, b)
		return nil
	})
	if err != nil {
		return err
	}
	for _, b := range waiting {
		b.Tiering = policy.ID
		if err := c.put(collBuckets, b.ID, b); err != nil {
			return err
		}
	}
	return nil
}

func (c *commitTx) insertBucket(doc BucketDoc) error {
	if err := c.checkNewID(collBuckets, doc.ID); err != nil {
		return err
	}
	if err := c.checkSystem(doc.System); err != nil {
		return err
	}
	if err := c.checkUniqueName(collBuckets, doc.System, doc.Name, doc.ID); err != nil {
		return err
	}
	if doc.Tiering != "" {
		var policy PolicyDoc
		if err := c.get(collTieringPolicies, doc.Tiering, &policy); err != nil {
			return err
		}
	}
	return c.put(collBuckets, doc.ID, doc)
}

func (c *commitTx) updateTier(p TierPatch) error {
	var doc TierDoc
	if err := c.get(collTiers, p.ID, &doc); err != nil {
		return err
	}
	p.Apply(&doc)
	if p.Name != nil {
		if err := c.checkUniqueName(collTiers, doc.System, doc.Name, doc.ID); err != nil {
			return err
		}
	}
	if p.Pools != nil {
		if err := c.checkPoolRefs(doc.System, doc.Pools); err != nil {
			return err
		}
	}
	return c.put(collTiers, doc.ID, doc)
}

func (c *commitTx) updateBucket(p BucketPatch) error {
	var doc BucketDoc
	if err := c.get(collBuckets, p.ID, &doc); err != nil {
		return err
	}
	if p.Tiering != nil {
		if *p.Tiering != "" {
			var policy PolicyDoc
			if err := c.get(collTieringPolicies, *p.Tiering, &policy); err != nil {
				return err
			}
		}
		doc.Tiering = *p.Tiering
	}
	if p.PolicyName != nil {
		doc.PolicyName = *p.PolicyName
	}
	return c.put(collBuckets, doc.ID, doc)
}

func (c *commitTx) remove(coll []byte, id string) error {
	b := c.tx.Bucket(coll)
	if b.Get([]byte(id)) == nil {
		return fmt.Errorf("%s %q: %w", coll, id, ErrNotFound)
	}
	return b.Delete([]byte(id))
}
