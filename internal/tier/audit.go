package tier

import (
	"fmt"
	"strings"

	"github.com/gftdcojp/storage-tiers/internal/types"
)

const noCloudResources = "no cloud resources"

// auditDescription summarizes an applied tier update for the bucket audit
// trail. before is the tier as it was, after the tier as committed. It
// returns "" when the update touched neither placement nor cloud pools.
func auditDescription(req UpdateTierRequest, actor string, before, after *types.Tier) string {
	var lines []string
	switch {
	case req.DataPlacement != nil:
		change := "No changes"
		if before.DataPlacement != after.DataPlacement {
			change = fmt.Sprintf("Changed to %s from %s", after.DataPlacement, before.DataPlacement)
		}
		oldPools := poolNames(before.Pools)
		newPools := poolNames(after.Pools)
		lines = append(lines,
			"Bucket policy was changed by: "+actor,
			"Policy type: "+change,
		)
		if added := difference(newPools, oldPools); len(added) > 0 {
			lines = append(lines, "Added pools: "+strings.Join(added, ","))
		}
		if removed := difference(oldPools, newPools); len(removed) > 0 {
			lines = append(lines, "Removed pools: "+strings.Join(removed, ","))
		}
	case req.CloudPools != nil:
		_, oldCloud := before.PartitionPools()
		lines = append(lines, fmt.Sprintf("Bucket cloud policy changes from using %s to using %s",
			describePools(poolNames(oldCloud)), describePools(*req.CloudPools)))
	}
	return strings.Join(lines, "\n")
}

func describePools(names []string) string {
	if len(names) == 0 {
		return noCloudResources
	}
	return strings.Join(names, ",")
}

// difference returns the elements of a not in b, in a's order.
func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}
