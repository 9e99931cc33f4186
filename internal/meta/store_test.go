package meta

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.db")
	store, err := NewBoltStore(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedSystem creates system "sys" with node pools p1, p2 and cloud pool c1.
func seedSystem(t *testing.T, store *BoltStore) {
	t.Helper()
	err := store.Commit(context.Background(), Changes{Insert: Inserts{
		Systems: []SystemDoc{{ID: "sys", Name: "demo"}},
		Pools: []PoolDoc{
			{ID: "p1", System: "sys", Name: "pool-1"},
			{ID: "p2", System: "sys", Name: "pool-2"},
			{ID: "c1", System: "sys", Name: "cloud-1", Cloud: &CloudPoolDoc{Endpoint: "https://s3.example.com", TargetBucket: "target"}},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCommitAndResolve(t *testing.T) {
	store := newTestStore(t)
	seedSystem(t, store)
	ctx := context.Background()

	err := store.Commit(ctx, Changes{Insert: Inserts{
		Tiers: []TierDoc{{ID: "t1", System: "sys", Name: "tier-1", Replicas: 3, DataFragments: 1, DataPlacement: "MIRROR", Pools: []string{"p1", "c1"}}},
		TieringPolicies: []PolicyDoc{{ID: "tp1", System: "sys", Name: "policy-1", Tiers: []TierOrderDoc{{Order: 0, Tier: "t1"}}}},
		Buckets:         []BucketDoc{{ID: "b1", System: "sys", Name: "files", Tiering: "tp1"}},
	}})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	sys, err := store.System("sys")
	if err != nil {
		t.Fatal(err)
	}
	tier := sys.TiersByName["tier-1"]
	if tier == nil {
		t.Fatal("tier-1 not in snapshot")
	}
	if len(tier.Pools) != 2 || tier.Pools[0].Name != "pool-1" || !tier.Pools[1].IsCloud() {
		t.Fatalf("tier pools not resolved: %+v", tier.Pools)
	}
	policy := sys.TieringPoliciesByName["policy-1"]
	if policy == nil || len(policy.Tiers) != 1 || policy.Tiers[0].Tier != tier {
		t.Fatalf("policy tiers not resolved: %+v", policy)
	}
	if b := sys.FindBucketByTier("t1"); b == nil || b.Name != "files" {
		t.Fatalf("expected bucket files for tier-1, got %+v", b)
	}
}

func TestCommitIsAtomic(t *testing.T) {
	store := newTestStore(t)
	seedSystem(t, store)

	err := store.Commit(context.Background(), Changes{Insert: Inserts{
		Pools: []PoolDoc{{ID: "p3", System: "sys", Name: "pool-3"}},
		Tiers: []TierDoc{{ID: "t1", System: "sys", Name: "tier-1", Pools: []string{"missing"}}},
	}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for dangling pool, got %v", err)
	}

	sys, _ := store.System("sys")
	if _, ok := sys.PoolsByName["pool-3"]; ok {
		t.Fatal("pool-3 should have been rolled back with the failed tier")
	}
	if len(sys.TiersByName) != 0 {
		t.Fatal("no tier should have been written")
	}
}

func TestCommitConflicts(t *testing.T) {
	store := newTestStore(t)
	seedSystem(t, store)
	ctx := context.Background()

	err := store.Commit(ctx, Changes{Insert: Inserts{
		Pools: []PoolDoc{{ID: "p9", System: "sys", Name: "pool-1"}},
	}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate name, got %v", err)
	}

	err = store.Commit(ctx, Changes{Insert: Inserts{
		Pools: []PoolDoc{{ID: "p1", System: "sys", Name: "other"}},
	}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate id, got %v", err)
	}

	err = store.Commit(ctx, Changes{Insert: Inserts{
		Pools: []PoolDoc{{ID: "p9", System: "nope", Name: "x"}},
	}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown system, got %v", err)
	}
}

func TestUpdateTierPatch(t *testing.T) {
	store := newTestStore(t)
	seedSystem(t, store)
	ctx := context.Background()

	if err := store.Commit(ctx, Changes{Insert: Inserts{
		Tiers: []TierDoc{
			{ID: "t1", System: "sys", Name: "tier-1", Replicas: 3, DataFragments: 1, DataPlacement: "SPREAD", Pools: []string{"p1"}},
			{ID: "t2", System: "sys", Name: "tier-2", Replicas: 1, DataFragments: 1, DataPlacement: "SPREAD"},
		},
	}}); err != nil {
		t.Fatal(err)
	}

	name := "renamed"
	pools := []string{"p1", "p2"}
	if err := store.Commit(ctx, Changes{Update: Updates{
		Tiers: []TierPatch{{ID: "t1", Name: &name, Pools: &pools}},
	}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	sys, _ := store.System("sys")
	tier := sys.TiersByName["renamed"]
	if tier == nil {
		t.Fatal("renamed tier not found")
	}
	if tier.Replicas != 3 || tier.DataPlacement != "SPREAD" {
		t.Errorf("unpatched fields changed: %+v", tier)
	}
	if len(tier.Pools) != 2 {
		t.Errorf("expected 2 pools, got %d", len(tier.Pools))
	}
	if _, ok := sys.TiersByName["tier-1"]; ok {
		t.Error("old name should be gone")
	}

	dup := "tier-2"
	err := store.Commit(ctx, Changes{Update: Updates{Tiers: []TierPatch{{ID: "t1", Name: &dup}}}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict renaming onto tier-2, got %v", err)
	}

	err = store.Commit(ctx, Changes{Update: Updates{Tiers: []TierPatch{{ID: "nope", Name: &name}}}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	seedSystem(t, store)
	ctx := context.Background()

	if err := store.Commit(ctx, Changes{Insert: Inserts{
		Tiers: []TierDoc{{ID: "t1", System: "sys", Name: "tier-1", Pools: []string{"p1"}}},
	}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(ctx, Changes{Remove: Removals{Tiers: []string{"t1"}}}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	sys, _ := store.System("sys")
	if len(sys.TiersByName) != 0 {
		t.Fatal("tier should be removed")
	}

	err := store.Commit(ctx, Changes{Remove: Removals{Tiers: []string{"t1"}}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound removing twice, got %v", err)
	}
}

func TestSnapshotSwap(t *testing.T) {
	store := newTestStore(t)
	seedSystem(t, store)

	before, _ := store.System("sys")
	if err := store.Commit(context.Background(), Changes{Insert: Inserts{
		Tiers: []TierDoc{{ID: "t1", System: "sys", Name: "tier-1"}},
	}}); err != nil {
		t.Fatal(err)
	}
	after, _ := store.System("sys")

	if _, ok := before.TiersByName["tier-1"]; ok {
		t.Fatal("a published snapshot must never change")
	}
	if _, ok := after.TiersByName["tier-1"]; !ok {
		t.Fatal("new snapshot should contain tier-1")
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.db")
	store, err := NewBoltStore(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	seedSystem(t, store)
	store.Close()

	store, err = NewBoltStore(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	sys, err := store.System("sys")
	if err != nil {
		t.Fatal(err)
	}
	if len(sys.PoolsByName) != 3 {
		t.Fatalf("expected 3 pools after reopen, got %d", len(sys.PoolsByName))
	}
	if c := sys.PoolsByName["cloud-1"]; c == nil || c.Cloud.TargetBucket != "target" {
		t.Fatalf("cloud pool info lost: %+v", c)
	}
}

func TestUnknownSystem(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.System("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitCanceledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Commit(ctx, Changes{Insert: Inserts{Systems: []SystemDoc{{ID: "sys", Name: "demo"}}}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seeds := []SystemSeed{{
		ID:   "sys",
		Name: "demo",
		Pools: []PoolSeed{
			{Name: "pool-1"},
			{Name: "cloud-1", Cloud: &CloudPoolDoc{Endpoint: "https://s3.example.com", TargetBucket: "target"}},
		},
		Buckets: []BucketSeed{{Name: "files", TieringPolicy: "policy-1"}},
	}}

	if err := Bootstrap(ctx, store, seeds); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	sys, _ := store.System("sys")
	if len(sys.PoolsByName) != 2 || len(sys.Buckets) != 1 {
		t.Fatalf("unexpected bootstrap result: pools=%d buckets=%d", len(sys.PoolsByName), len(sys.Buckets))
	}
	if sys.Buckets[0].Tiering != nil {
		t.Fatal("policy-1 does not exist yet, bucket must be unbound")
	}

	pool := sys.PoolsByName["pool-1"]
	if err := store.Commit(ctx, Changes{Insert: Inserts{
		Tiers:           []TierDoc{{ID: "t1", System: "sys", Name: "tier-1", Pools: []string{pool.ID}}},
		TieringPolicies: []PolicyDoc{{ID: "tp1", System: "sys", Name: "policy-1", Tiers: []TierOrderDoc{{Tier: "t1"}}}},
	}}); err != nil {
		t.Fatal(err)
	}
	sys, _ = store.System("sys")
	if sys.Buckets[0].Tiering == nil || sys.Buckets[0].Tiering.ID != "tp1" {
		t.Fatal("inserting policy-1 should bind the waiting bucket")
	}

	if err := Bootstrap(ctx, store, seeds); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	sys, _ = store.System("sys")
	if len(sys.PoolsByName) != 2 {
		t.Fatalf("bootstrap must not duplicate pools, got %d", len(sys.PoolsByName))
	}
	if sys.Buckets[0].Tiering == nil || sys.Buckets[0].Tiering.ID != "tp1" {
		t.Fatal("bucket should now be bound to policy-1")
	}
}

func TestPolicyRecreateRebindsBucket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	err := Bootstrap(ctx, store, []SystemSeed{{
		ID:      "sys",
		Name:    "demo",
		Pools:   []PoolSeed{{Name: "pool-1"}},
		Buckets: []BucketSeed{{Name: "files", TieringPolicy: "policy-1"}, {Name: "logs", TieringPolicy: "other"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	sys, _ := store.System("sys")
	pool := sys.PoolsByName["pool-1"]

	insert := func(id string) {
		t.Helper()
		if err := store.Commit(ctx, Changes{Insert: Inserts{
			TieringPolicies: []PolicyDoc{{ID: id, System: "sys", Name: "policy-1", Tiers: []TierOrderDoc{{Tier: "t1"}}}},
		}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Commit(ctx, Changes{Insert: Inserts{
		Tiers: []TierDoc{{ID: "t1", System: "sys", Name: "tier-1", Pools: []string{pool.ID}}},
	}}); err != nil {
		t.Fatal(err)
	}
	insert("tp1")
	if err := store.Commit(ctx, Changes{Remove: Removals{TieringPolicies: []string{"tp1"}}}); err != nil {
		t.Fatal(err)
	}
	insert("tp2")

	sys, _ = store.System("sys")
	for _, b := range sys.Buckets {
		switch b.Name {
		case "files":
			if b.Tiering == nil || b.Tiering.ID != "tp2" {
				t.Errorf("files should be bound to tp2, got %+v", b.Tiering)
			}
		case "logs":
			if b.Tiering != nil {
				t.Errorf("logs waits for another policy, got %+v", b.Tiering)
			}
		}
	}
}
