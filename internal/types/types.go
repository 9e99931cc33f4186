package types

import "fmt"

// Placement selects how a tier lays data out across its pools.
type Placement string

const (
	PlacementSpread Placement = "SPREAD"
	PlacementMirror Placement = "MIRROR"
)

// Valid reports whether p is a known placement.
func (p Placement) Valid() bool {
	return p == PlacementSpread || p == PlacementMirror
}

func (p Placement) String() string {
	return string(p)
}

// ParsePlacement validates a caller-supplied placement value.
func ParsePlacement(s string) (Placement, error) {
	p := Placement(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown data placement %q", s)
	}
	return p, nil
}

// CloudPoolInfo marks a pool as backed by an external cloud endpoint.
type CloudPoolInfo struct {
	Endpoint     string
	TargetBucket string
	Region       string
}

// Pool is a named group of storage capacity.
type Pool struct {
	ID     string
	System string
	Name   string
	Cloud  *CloudPoolInfo // nil for node pools
}

// IsCloud reports whether the pool is a cloud pool.
func (p *Pool) IsCloud() bool {
	return p.Cloud != nil
}

// Tier binds a placement and redundancy factor to an ordered set of pools.
type Tier struct {
	ID              string
	System          string
	Name            string
	Replicas        int
	DataFragments   int
	ParityFragments int
	DataPlacement   Placement
	Pools           []*Pool
}

// PartitionPools splits the tier's pools into node pools and cloud pools,
// keeping their relative order.
func (t *Tier) PartitionPools() (nodePools, cloudPools []*Pool) {
	for _, p := range t.Pools {
		if p.IsCloud() {
			cloudPools = append(cloudPools, p)
		} else {
			nodePools = append(nodePools, p)
		}
	}
	return nodePools, cloudPools
}

// TierOrder is one entry of a tiering policy.
type TierOrder struct {
	Order int
	Tier  *Tier
}

// TieringPolicy is an ordered list of tiers.
type TieringPolicy struct {
	ID     string
	System string
	Name   string
	Tiers  []TierOrder
}

// HasTier reports whether the policy references the tier with the given id.
func (p *TieringPolicy) HasTier(tierID string) bool {
	for _, t := range p.Tiers {
		if t.Tier != nil && t.Tier.ID == tierID {
			return true
		}
	}
	return false
}

// Bucket is bound to a tiering policy. PolicyName is the policy it was
// declared with, which may not exist yet.
type Bucket struct {
	ID         string
	System     string
	Name       string
	PolicyName string
	Tiering    *TieringPolicy
}

// System is the resolved configuration of one storage system.
type System struct {
	ID                    string
	Name                  string
	PoolsByName           map[string]*Pool
	TiersByName           map[string]*Tier
	TieringPoliciesByName map[string]*TieringPolicy
	Buckets               []*Bucket
}

// FindBucketByTier returns the first bucket, by name, whose tiering policy
// references the tier, or nil when no bound policy uses it.
func (s *System) FindBucketByTier(tierID string) *Bucket {
	for _, b := range s.Buckets {
		if b.Tiering != nil && b.Tiering.HasTier(tierID) {
			return b
		}
	}
	return nil
}
