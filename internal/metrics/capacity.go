package metrics

import "github.com/gftdcojp/storage-tiers/internal/size"

// ObserveTierStorage publishes every metric of a tier capacity report.
func ObserveTierStorage(system, tier string, st size.Storage) {
	for key, v := range st {
		TierCapacityBytes.WithLabelValues(system, tier, key).Set(v.Float64())
	}
}

// ObservePolicyStorage publishes every metric of a policy capacity report.
func ObservePolicyStorage(system, policy string, st size.Storage) {
	for key, v := range st {
		PolicyCapacityBytes.WithLabelValues(system, policy, key).Set(v.Float64())
	}
}

// ForgetTier drops the series of a deleted tier.
func ForgetTier(system, tier string) {
	for _, key := range size.StorageKeys {
		TierCapacityBytes.DeleteLabelValues(system, tier, key)
	}
}

// ForgetPolicy drops the series of a deleted tiering policy.
func ForgetPolicy(system, policy string) {
	for _, key := range size.StorageKeys {
		PolicyCapacityBytes.DeleteLabelValues(system, policy, key)
	}
}
