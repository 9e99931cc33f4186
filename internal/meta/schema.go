package meta

import (
	"encoding/binary"
	"encoding/json"
)

// Bucket names in BoltDB. Each collection maps document id -> JSON document.
var (
	bucketSystem        = []byte("system")
	keySchemaVersion    = []byte("schema_version")
	collSystems         = []byte("systems")
	collPools           = []byte("pools")
	collTiers           = []byte("tiers")
	collTieringPolicies = []byte("tieringpolicies")

	// Schema v2: buckets bound to tiering policies
	collBuckets = []byte("buckets")
)

const currentSchemaVersion = 2

// SystemDoc is the persisted form of a storage system.
type SystemDoc struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// CloudPoolDoc is the persisted cloud backing of a pool.
type CloudPoolDoc struct {
	Endpoint     string `json:"endpoint"`
	TargetBucket string `json:"target_bucket"`
	Region       string `json:"region,omitempty"`
}

// PoolDoc is the persisted form of a pool.
type PoolDoc struct {
	ID     string        `json:"_id"`
	System string        `json:"system"`
	Name   string        `json:"name"`
	Cloud  *CloudPoolDoc `json:"cloud_pool_info,omitempty"`
}

// TierDoc is the persisted form of a tier.
type TierDoc struct {
	ID              string   `json:"_id"`
	System          string   `json:"system"`
	Name            string   `json:"name"`
	Replicas        int      `json:"replicas"`
	DataFragments   int      `json:"data_fragments"`
	ParityFragments int      `json:"parity_fragments"`
	DataPlacement   string   `json:"data_placement"`
	Pools           []string `json:"pools"`
}

// TierOrderDoc references a tier by id from a tiering policy.
type TierOrderDoc struct {
	Order int    `json:"order"`
	Tier  string `json:"tier"`
}

// PolicyDoc is the persisted form of a tiering policy.
type PolicyDoc struct {
	ID     string         `json:"_id"`
	System string         `json:"system"`
	Name   string         `json:"name"`
	Tiers  []TierOrderDoc `json:"tiers"`
}

// BucketDoc is the persisted form of a bucket. Tiering is a policy id and may
// be empty. PolicyName is the policy the bucket was declared with; a policy
// inserted under that name binds the bucket in the same commit.
type BucketDoc struct {
	ID         string `json:"_id"`
	System     string `json:"system"`
	Name       string `json:"name"`
	Tiering    string `json:"tiering,omitempty"`
	PolicyName string `json:"policy_name,omitempty"`
}

func encodeDoc(doc interface{}) ([]byte, error) {
	return json.Marshal(doc)
}

func decodeDoc(data []byte, doc interface{}) error {
	return json.Unmarshal(data, doc)
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
