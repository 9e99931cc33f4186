package meta

import (
	"sort"

	"github.com/gftdcojp/storage-tiers/internal/types"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// snapshot is an immutable, fully resolved view of every system.
type snapshot struct {
	systems map[string]*types.System
}

type docs struct {
	systems  []SystemDoc
	pools    []PoolDoc
	tiers    []TierDoc
	policies []PolicyDoc
	buckets  []BucketDoc
}

func readDocs(tx *bbolt.Tx) (*docs, error) {
	d := &docs{}
	if err := readColl(tx, collSystems, func(v []byte) error {
		var doc SystemDoc
		if err := decodeDoc(v, &doc); err != nil {
			return err
		}
		d.systems = append(d.systems, doc)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := readColl(tx, collPools, func(v []byte) error {
		var doc PoolDoc
		if err := decodeDoc(v, &doc); err != nil {
			return err
		}
		d.pools = append(d.pools, doc)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := readColl(tx, collTiers, func(v []byte) error {
		var doc TierDoc
		if err := decodeDoc(v, &doc); err != nil {
			return err
		}
		d.tiers = append(d.tiers, doc)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := readColl(tx, collTieringPolicies, func(v []byte) error {
		var doc PolicyDoc
		if err := decodeDoc(v, &doc); err != nil {
			return err
		}
		d.policies = append(d.policies, doc)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := readColl(tx, collBuckets, func(v []byte) error {
		var doc BucketDoc
		if err := decodeDoc(v, &doc); err != nil {
			return err
		}
		d.buckets = append(d.buckets, doc)
		return nil
	}); err != nil {
		return nil, err
	}
	return d, nil
}

func readColl(tx *bbolt.Tx, coll []byte, fn func(v []byte) error) error {
	b := tx.Bucket(coll)
	if b == nil {
		return nil
	}
	return b.ForEach(func(_, v []byte) error {
		return fn(v)
	})
}

// buildSnapshot resolves id references into pointers. Dangling references
// are dropped and logged; commits never create them, but removals do not
// cascade.
func buildSnapshot(d *docs, logger *zap.Logger) *snapshot {
	snap := &snapshot{systems: make(map[string]*types.System, len(d.systems))}
	for _, doc := range d.systems {
		snap.systems[doc.ID] = &types.System{
			ID:                    doc.ID,
			Name:                  doc.Name,
			PoolsByName:           make(map[string]*types.Pool),
			TiersByName:           make(map[string]*types.Tier),
			TieringPoliciesByName: make(map[string]*types.TieringPolicy),
		}
	}

	pools := make(map[string]*types.Pool, len(d.pools))
	for _, doc := range d.pools {
		sys, ok := snap.systems[doc.System]
		if !ok {
			logger.Warn("pool references unknown system", zap.String("pool", doc.ID), zap.String("system", doc.System))
			continue
		}
		p := &types.Pool{ID: doc.ID, System: doc.System, Name: doc.Name}
		if doc.Cloud != nil {
			p.Cloud = &types.CloudPoolInfo{
				Endpoint:     doc.Cloud.Endpoint,
				TargetBucket: doc.Cloud.TargetBucket,
				Region:       doc.Cloud.Region,
			}
		}
		pools[doc.ID] = p
		sys.PoolsByName[doc.Name] = p
	}

	tiers := make(map[string]*types.Tier, len(d.tiers))
	for _, doc := range d.tiers {
		sys, ok := snap.systems[doc.System]
		if !ok {
			logger.Warn("tier references unknown system", zap.String("tier", doc.ID), zap.String("system", doc.System))
			continue
		}
		t := &types.Tier{
			ID:              doc.ID,
			System:          doc.System,
			Name:            doc.Name,
			Replicas:        doc.Replicas,
			DataFragments:   doc.DataFragments,
			ParityFragments: doc.ParityFragments,
			DataPlacement:   types.Placement(doc.DataPlacement),
		}
		for _, id := range doc.Pools {
			p, ok := pools[id]
			if !ok {
				logger.Warn("tier references unknown pool", zap.String("tier", doc.Name), zap.String("pool", id))
				continue
			}
			t.Pools = append(t.Pools, p)
		}
		tiers[doc.ID] = t
		sys.TiersByName[doc.Name] = t
	}

	policies := make(map[string]*types.TieringPolicy, len(d.policies))
	for _, doc := range d.policies {
		sys, ok := snap.systems[doc.System]
		if !ok {
			logger.Warn("tiering policy references unknown system", zap.String("policy", doc.ID), zap.String("system", doc.System))
			continue
		}
		p := &types.TieringPolicy{ID: doc.ID, System: doc.System, Name: doc.Name}
		for _, to := range doc.Tiers {
			t, ok := tiers[to.Tier]
			if !ok {
				logger.Warn("tiering policy references unknown tier", zap.String("policy", doc.Name), zap.String("tier", to.Tier))
				continue
			}
			p.Tiers = append(p.Tiers, types.TierOrder{Order: to.Order, Tier: t})
		}
		policies[doc.ID] = p
		sys.TieringPoliciesByName[doc.Name] = p
	}

	for _, doc := range d.buckets {
		sys, ok := snap.systems[doc.System]
		if !ok {
			continue
		}
		b := &types.Bucket{ID: doc.ID, System: doc.System, Name: doc.Name, PolicyName: doc.PolicyName}
		if doc.Tiering != "" {
			b.Tiering = policies[doc.Tiering]
		}
		sys.Buckets = append(sys.Buckets, b)
	}
	for _, sys := range snap.systems {
		sort.Slice(sys.Buckets, func(i, j int) bool { return sys.Buckets[i].Name < sys.Buckets[j].Name })
	}

	return snap
}
