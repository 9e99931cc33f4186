package meta

import (
	"context"
	"errors"
	"fmt"
)

// SystemSeed declares a system and the pools and buckets it must contain.
type SystemSeed struct {
	ID      string
	Name    string
	Pools   []PoolSeed
	Buckets []BucketSeed
}

// PoolSeed declares a pool. Cloud is nil for node pools.
type PoolSeed struct {
	Name  string
	Cloud *CloudPoolDoc
}

// BucketSeed declares a bucket and the name of its tiering policy.
type BucketSeed struct {
	Name          string
	TieringPolicy string
}

// Bootstrap inserts whatever the seeds declare that the store does not hold
// yet, and binds buckets to their tiering policy if that policy exists. A
// bucket whose policy is missing is bound when the policy is created.
// Existing documents are never modified otherwise, so it is safe to run on
// every start.
func Bootstrap(ctx context.Context, store Store, seeds []SystemSeed) error {
	var changes Changes
	for _, seed := range seeds {
		sys, err := store.System(seed.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			changes.Insert.Systems = append(changes.Insert.Systems, SystemDoc{ID: seed.ID, Name: seed.Name})
		case err != nil:
			return err
		}

		for _, ps := range seed.Pools {
			if sys != nil {
				if _, ok := sys.PoolsByName[ps.Name]; ok {
					continue
				}
			}
			changes.Insert.Pools = append(changes.Insert.Pools, PoolDoc{
				ID:     store.GenerateID(),
				System: seed.ID,
				Name:   ps.Name,
				Cloud:  ps.Cloud,
			})
		}

		for _, bs := range seed.Buckets {
			var policyID string
			if sys != nil && bs.TieringPolicy != "" {
				if p, ok := sys.TieringPoliciesByName[bs.TieringPolicy]; ok {
					policyID = p.ID
				}
			}

			var existing bool
			if sys != nil {
				for _, b := range sys.Buckets {
					if b.Name != bs.Name {
						continue
					}
					existing = true
					var patch BucketPatch
					if policyID != "" && (b.Tiering == nil || b.Tiering.ID != policyID) {
						id := policyID
						patch.Tiering = &id
					}
					if b.PolicyName != bs.TieringPolicy {
						name := bs.TieringPolicy
						patch.PolicyName = &name
					}
					if patch.Tiering != nil || patch.PolicyName != nil {
						patch.ID = b.ID
						changes.Update.Buckets = append(changes.Update.Buckets, patch)
					}
				}
			}
			if !existing {
				changes.Insert.Buckets = append(changes.Insert.Buckets, BucketDoc{
					ID:         store.GenerateID(),
					System:     seed.ID,
					Name:       bs.Name,
					Tiering:    policyID,
					PolicyName: bs.TieringPolicy,
				})
			}
		}
	}

	if err := store.Commit(ctx, changes); err != nil {
		return fmt.Errorf("bootstrapping systems: %w", err)
	}
	return nil
}
