package tier

import (
	"github.com/gftdcojp/storage-tiers/internal/metrics"
	"github.com/gftdcojp/storage-tiers/internal/size"
	"github.com/gftdcojp/storage-tiers/internal/types"
	"go.uber.org/zap"
)

// TierInfo is the capacity report of a tier.
type TierInfo struct {
	Name            string          `json:"name"`
	DataPlacement   types.Placement `json:"data_placement"`
	Replicas        int             `json:"replicas"`
	DataFragments   int             `json:"data_fragments"`
	ParityFragments int             `json:"parity_fragments"`
	NodePools       []string        `json:"node_pools"`
	CloudPools      []string        `json:"cloud_pools"`
	Storage         size.Storage    `json:"storage"`
}

// TierOrderInfo is one entry of a policy report.
type TierOrderInfo struct {
	Order int    `json:"order"`
	Tier  string `json:"tier"`
}

// PolicyInfo is the capacity report of a tiering policy. Storage is nil when
// the report was built without live stats.
type PolicyInfo struct {
	Name    string          `json:"name"`
	Tiers   []TierOrderInfo `json:"tiers"`
	Storage size.Storage    `json:"storage"`
}

// usableReducer picks the reduction for usable capacity. Mirrors are bound
// by their smallest member, spread capacity adds up.
func usableReducer(tier *types.Tier, logger *zap.Logger) size.Reducer {
	switch tier.DataPlacement {
	case types.PlacementMirror:
		return size.ReduceMinimum
	case types.PlacementSpread:
		return size.ReduceSum
	default:
		metrics.PlacementDefects.WithLabelValues(tier.System, tier.Name).Inc()
		logger.Error("bad tier data placement, assuming spread",
			zap.String("system", tier.System),
			zap.String("tier", tier.Name),
			zap.String("data_placement", string(tier.DataPlacement)),
		)
		return size.ReduceSum
	}
}

// GetTierInfo computes the capacity report of a tier from the live storage
// of its pools, keyed by pool name. Only node pools contribute capacity; a
// pool missing from pools contributes zero free space.
func GetTierInfo(tier *types.Tier, pools map[string]size.Storage, logger *zap.Logger) (*TierInfo, error) {
	nodePools, cloudPools := tier.PartitionPools()
	info := &TierInfo{
		Name:            tier.Name,
		DataPlacement:   tier.DataPlacement,
		Replicas:        tier.Replicas,
		DataFragments:   tier.DataFragments,
		ParityFragments: tier.ParityFragments,
		NodePools:       poolNames(nodePools),
		CloudPools:      poolNames(cloudPools),
	}

	reducer := usableReducer(tier, logger)

	poolsStorage := make([]size.Storage, 0, len(nodePools))
	for _, p := range nodePools {
		st := size.Storage{}
		for k, v := range pools[p.Name] {
			st[k] = v
		}
		st.Defaults(size.Free)
		poolsStorage = append(poolsStorage, st)
	}

	storage, err := size.ReduceStorage(size.ReduceSum, poolsStorage, 1, 1)
	if err != nil {
		return nil, err
	}
	storage.Defaults(size.Used, size.Total, size.UnavailableFree, size.UsedOther, size.Reserved)

	replicas := tier.Replicas
	if replicas < 1 {
		logger.Warn("tier has no valid replica count, reporting with 1",
			zap.String("system", tier.System),
			zap.String("tier", tier.Name),
			zap.Int("replicas", replicas),
		)
		replicas = 1
	}
	usable, err := size.ReduceStorage(reducer, poolsStorage, 1, uint64(replicas))
	if err != nil {
		return nil, err
	}
	usable.Defaults(size.Free)
	storage[size.Real] = usable[size.Free]

	info.Storage = storage
	return info, nil
}

// GetTieringPolicyInfo reports the tier order of a policy. When pools is
// non-nil the report also carries the summed storage of all its tiers.
func GetTieringPolicyInfo(policy *types.TieringPolicy, pools map[string]size.Storage, logger *zap.Logger) (*PolicyInfo, error) {
	info := &PolicyInfo{
		Name:  policy.Name,
		Tiers: make([]TierOrderInfo, 0, len(policy.Tiers)),
	}

	var tiersStorage []size.Storage
	for _, to := range policy.Tiers {
		if pools != nil {
			ti, err := GetTierInfo(to.Tier, pools, logger)
			if err != nil {
				return nil, err
			}
			tiersStorage = append(tiersStorage, ti.Storage)
		}
		info.Tiers = append(info.Tiers, TierOrderInfo{Order: to.Order, Tier: to.Tier.Name})
	}

	if pools != nil {
		storage, err := size.ReduceStorage(size.ReduceSum, tiersStorage, 1, 1)
		if err != nil {
			return nil, err
		}
		info.Storage = storage
	}
	return info, nil
}

func poolNames(pools []*types.Pool) []string {
	names := make([]string, 0, len(pools))
	for _, p := range pools {
		names = append(names, p.Name)
	}
	return names
}
