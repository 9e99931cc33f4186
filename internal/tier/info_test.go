package tier

import (
	"testing"

	"github.com/gftdcojp/storage-tiers/internal/size"
	"github.com/gftdcojp/storage-tiers/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func nodePool(name string) *types.Pool {
	return &types.Pool{ID: "id-" + name, System: "sys", Name: name}
}

func cloudPool(name string) *types.Pool {
	return &types.Pool{ID: "id-" + name, System: "sys", Name: name, Cloud: &types.CloudPoolInfo{
		Endpoint: "https://s3.example.com", TargetBucket: name,
	}}
}

func freeOnly(b uint64) size.Storage {
	return size.Storage{size.Free: size.FromBytes(b)}
}

func TestMirrorAndSpreadDiverge(t *testing.T) {
	pools := []*types.Pool{nodePool("p1"), nodePool("p2"), nodePool("p3")}
	stats := map[string]size.Storage{
		"p1": freeOnly(100),
		"p2": freeOnly(100),
		"p3": freeOnly(100),
	}

	tests := []struct {
		placement types.Placement
		real      uint64
	}{
		{types.PlacementMirror, 50},
		{types.PlacementSpread, 150},
	}
	for _, tt := range tests {
		t.Run(string(tt.placement), func(t *testing.T) {
			tier := &types.Tier{Name: "t", Replicas: 2, DataFragments: 1, DataPlacement: tt.placement, Pools: pools}
			info, err := GetTierInfo(tier, stats, zap.NewNop())
			if err != nil {
				t.Fatal(err)
			}
			if got := info.Storage.Get(size.Real); got != size.FromBytes(tt.real) {
				t.Fatalf("real = %v, want %d", got, tt.real)
			}
			// raw free is additive regardless of placement
			if got := info.Storage.Get(size.Free); got != size.FromBytes(300) {
				t.Fatalf("free = %v, want 300", got)
			}
		})
	}
}

func TestMissingPoolContributesZero(t *testing.T) {
	tier := &types.Tier{
		Name: "t", Replicas: 1, DataPlacement: types.PlacementSpread,
		Pools: []*types.Pool{nodePool("P1"), nodePool("P2")},
	}
	info, err := GetTierInfo(tier, map[string]size.Storage{"P1": freeOnly(100)}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Storage.Get(size.Real); got != size.FromBytes(100) {
		t.Fatalf("real = %v, want 100", got)
	}
}

func TestTierInfoDefaults(t *testing.T) {
	tier := &types.Tier{
		Name: "t", Replicas: 3, DataFragments: 1, DataPlacement: types.PlacementSpread,
		Pools: []*types.Pool{nodePool("p1"), cloudPool("aws")},
	}
	info, err := GetTierInfo(tier, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{size.Used, size.Total, size.UnavailableFree, size.UsedOther, size.Reserved, size.Real} {
		v, ok := info.Storage[key]
		if !ok || !v.IsZero() {
			t.Errorf("%s = %v (present=%v), want zero", key, v, ok)
		}
	}
	if _, ok := info.Storage[size.Free]; ok {
		t.Error("free must not be defaulted in the raw aggregate")
	}
	if len(info.NodePools) != 1 || info.NodePools[0] != "p1" {
		t.Errorf("node_pools = %v", info.NodePools)
	}
	if len(info.CloudPools) != 1 || info.CloudPools[0] != "aws" {
		t.Errorf("cloud_pools = %v", info.CloudPools)
	}
	if info.Replicas != 3 || info.DataPlacement != types.PlacementSpread {
		t.Errorf("placement fields not reported: %+v", info)
	}
}

func TestCloudPoolsDoNotContribute(t *testing.T) {
	tier := &types.Tier{
		Name: "t", Replicas: 1, DataPlacement: types.PlacementSpread,
		Pools: []*types.Pool{nodePool("p1"), cloudPool("aws")},
	}
	info, err := GetTierInfo(tier, map[string]size.Storage{
		"p1":  {size.Total: size.FromBytes(10), size.Free: size.FromBytes(4)},
		"aws": {size.Total: size.FromBytes(1000), size.Free: size.FromBytes(1000)},
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Storage.Get(size.Total); got != size.FromBytes(10) {
		t.Fatalf("total = %v, want 10", got)
	}
	if got := info.Storage.Get(size.Real); got != size.FromBytes(4) {
		t.Fatalf("real = %v, want 4", got)
	}
}

func TestPetabyteScaleIsExact(t *testing.T) {
	// 3 pools of 5 PB + 1 byte each, mirrored twice
	big := size.ToBigInt(1, 5)
	tier := &types.Tier{
		Name: "t", Replicas: 2, DataPlacement: types.PlacementSpread,
		Pools: []*types.Pool{nodePool("a"), nodePool("b"), nodePool("c")},
	}
	stats := map[string]size.Storage{
		"a": {size.Free: big, size.Total: big},
		"b": {size.Free: big, size.Total: big},
		"c": {size.Free: big, size.Total: big},
	}
	info, err := GetTierInfo(tier, stats, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := info.Storage.Get(size.Total), size.ToBigInt(3, 15); got != want {
		t.Fatalf("total = %v, want %v", got, want)
	}
	// (15 PB + 3) / 2 = 7.5 PB + 1 byte, truncated
	want := size.ToBigInt(size.Petabyte/2+1, 7)
	if got := info.Storage.Get(size.Real); got != want {
		t.Fatalf("real = %v, want %v", got, want)
	}
}

func TestUnknownPlacementDegradesToSpread(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	tier := &types.Tier{
		System: "sys", Name: "t", Replicas: 1, DataPlacement: types.Placement("STRIPE"),
		Pools: []*types.Pool{nodePool("p1"), nodePool("p2")},
	}
	info, err := GetTierInfo(tier, map[string]size.Storage{"p1": freeOnly(10), "p2": freeOnly(20)}, zap.New(core))
	if err != nil {
		t.Fatalf("report must not fail on a bad placement: %v", err)
	}
	if got := info.Storage.Get(size.Real); got != size.FromBytes(30) {
		t.Fatalf("real = %v, want sum 30", got)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected the defect to be logged once, got %d entries", logs.Len())
	}
}

func TestZeroReplicasReportsWithOne(t *testing.T) {
	tier := &types.Tier{
		Name: "legacy", Replicas: 0, DataPlacement: types.PlacementMirror,
		Pools: []*types.Pool{nodePool("p1"), nodePool("p2")},
	}
	info, err := GetTierInfo(tier, map[string]size.Storage{"p1": freeOnly(80), "p2": freeOnly(60)}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Storage.Get(size.Real); got != size.FromBytes(60) {
		t.Fatalf("real = %v, want 60", got)
	}
}

func TestPolicyAggregation(t *testing.T) {
	t1 := &types.Tier{Name: "fast", Replicas: 1, DataPlacement: types.PlacementSpread, Pools: []*types.Pool{nodePool("p1")}}
	t2 := &types.Tier{Name: "slow", Replicas: 1, DataPlacement: types.PlacementSpread, Pools: []*types.Pool{nodePool("p2")}}
	policy := &types.TieringPolicy{Name: "pol", Tiers: []types.TierOrder{{Order: 0, Tier: t1}, {Order: 1, Tier: t2}}}

	stats := map[string]size.Storage{
		"p1": {size.Total: size.FromBytes(100)},
		"p2": {size.Total: size.FromBytes(250)},
	}
	info, err := GetTieringPolicyInfo(policy, stats, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Storage.Get(size.Total); got != size.FromBytes(350) {
		t.Fatalf("total = %v, want 350", got)
	}
	if len(info.Tiers) != 2 || info.Tiers[0] != (TierOrderInfo{0, "fast"}) || info.Tiers[1] != (TierOrderInfo{1, "slow"}) {
		t.Fatalf("tiers = %+v", info.Tiers)
	}
}

func TestPolicyWithoutStats(t *testing.T) {
	t1 := &types.Tier{Name: "fast", Replicas: 1, DataPlacement: types.PlacementSpread}
	policy := &types.TieringPolicy{Name: "pol", Tiers: []types.TierOrder{{Order: 5, Tier: t1}}}

	info, err := GetTieringPolicyInfo(policy, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if info.Storage != nil {
		t.Fatalf("storage should be absent without stats, got %v", info.Storage)
	}
	if len(info.Tiers) != 1 || info.Tiers[0].Order != 5 {
		t.Fatalf("tiers = %+v", info.Tiers)
	}
}
