package meta

// Changes is one atomic commit against the config store. Inserts are applied
// first, then updates, then removals; any failure rolls back all of them.
type Changes struct {
	Insert Inserts
	Update Updates
	Remove Removals
}

// Inserts lists new documents.
type Inserts struct {
	Systems         []SystemDoc
	Pools           []PoolDoc
	Tiers           []TierDoc
	TieringPolicies []PolicyDoc
	Buckets         []BucketDoc
}

// Updates lists partial updates. Nil fields keep their stored value.
type Updates struct {
	Tiers   []TierPatch
	Buckets []BucketPatch
}

// TierPatch changes selected fields of a stored tier.
type TierPatch struct {
	ID              string
	Name            *string
	Replicas        *int
	DataFragments   *int
	ParityFragments *int
	DataPlacement   *string
	Pools           *[]string
}

// Apply copies the set fields onto doc.
func (p TierPatch) Apply(doc *TierDoc) {
	if p.Name != nil {
		doc.Name = *p.Name
	}
	if p.Replicas != nil {
		doc.Replicas = *p.Replicas
	}
	if p.DataFragments != nil {
		doc.DataFragments = *p.DataFragments
	}
	if p.ParityFragments != nil {
		doc.ParityFragments = *p.ParityFragments
	}
	if p.DataPlacement != nil {
		doc.DataPlacement = *p.DataPlacement
	}
	if p.Pools != nil {
		doc.Pools = append([]string(nil), (*p.Pools)...)
	}
}

// BucketPatch rebinds a bucket to a tiering policy or changes the policy name
// it waits for.
type BucketPatch struct {
	ID         string
	Tiering    *string
	PolicyName *string
}

// Removals lists document ids to delete.
type Removals struct {
	Pools           []string
	Tiers           []string
	TieringPolicies []string
	Buckets         []string
}

// IsEmpty reports whether the commit would change nothing.
func (c Changes) IsEmpty() bool {
	i, u, r := c.Insert, c.Update, c.Remove
	return len(i.Systems)+len(i.Pools)+len(i.Tiers)+len(i.TieringPolicies)+len(i.Buckets)+
		len(u.Tiers)+len(u.Buckets)+
		len(r.Pools)+len(r.Tiers)+len(r.TieringPolicies)+len(r.Buckets) == 0
}
