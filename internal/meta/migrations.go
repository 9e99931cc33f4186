package meta

import (
	"fmt"

	"github.com/gftdcojp/storage-tiers/internal/types"
	"go.etcd.io/bbolt"
)

// Migrate runs any pending schema migrations.
func (s *BoltStore) Migrate() error {
	var version uint64
	s.db.View(func(tx *bbolt.Tx) error {
		sys := tx.Bucket(bucketSystem)
		if sys == nil {
			return nil
		}
		v := sys.Get(keySchemaVersion)
		if v != nil {
			version = bytesToUint64(v)
		}
		return nil
	})

	if version < 2 {
		if err := s.migrateV1toV2(); err != nil {
			return fmt.Errorf("migration v1→v2: %w", err)
		}
	}

	return nil
}

// migrateV1toV2 adds the buckets collection and backfills tiers written
// before data_placement was persisted.
func (s *BoltStore) migrateV1toV2() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(collBuckets); err != nil {
			return err
		}

		tiers := tx.Bucket(collTiers)
		if tiers != nil {
			updated := make(map[string][]byte)
			err := tiers.ForEach(func(k, v []byte) error {
				var doc TierDoc
				if err := decodeDoc(v, &doc); err != nil {
					return err
				}
				if doc.DataPlacement != "" {
					return nil
				}
				doc.DataPlacement = string(types.PlacementSpread)
				data, err := encodeDoc(doc)
				if err != nil {
					return err
				}
				updated[string(k)] = data
				return nil
			})
			if err != nil {
				return err
			}
			// bbolt forbids writes while iterating
			for k, data := range updated {
				if err := tiers.Put([]byte(k), data); err != nil {
					return err
				}
			}
		}

		sys := tx.Bucket(bucketSystem)
		if sys == nil {
			return fmt.Errorf("system bucket not found")
		}
		return sys.Put(keySchemaVersion, uint64ToBytes(2))
	})
}
