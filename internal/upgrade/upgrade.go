// Package upgrade derives a rolling-upgrade order for the nodes of a
// cluster: a tier by role (frozen first, master-eligible last) and a
// 1-based sequential position within the current node set.
package upgrade

import (
	"sort"
	"strconv"
	"strings"

	"github.com/espulse/espulse/internal/models"
	"github.com/espulse/espulse/internal/version"
)

// Tiers, in upgrade order. Data tiers go first so the cluster can rebalance
// before the coordinating layers restart; master-eligible nodes go last.
const (
	TierFrozen  = 1
	TierCold    = 2
	TierWarm    = 3
	TierHot     = 4
	TierData    = 5
	TierOther   = 6
	TierMaster  = 7
	TierUnknown = 8
)

// TierFor maps a node's role-letter string to its upgrade tier. A node
// already at or above the highest cluster version has nothing to upgrade
// and gets no tier; pass highest as "" to disable that check.
func TierFor(roles, nodeVersion, highest string) *int {
	if highest != "" && version.Compare(nodeVersion, highest) >= 0 {
		return nil
	}
	switch {
	case strings.ContainsRune(roles, 'f'):
		return tierPtr(TierFrozen)
	case strings.ContainsRune(roles, 'c'):
		return tierPtr(TierCold)
	case strings.ContainsRune(roles, 'w'):
		return tierPtr(TierWarm)
	case strings.ContainsRune(roles, 'h'):
		return tierPtr(TierHot)
	case strings.ContainsAny(roles, "ds"):
		return tierPtr(TierData)
	case strings.ContainsAny(roles, "litrv"):
		return tierPtr(TierOther)
	case strings.ContainsRune(roles, 'm'):
		return tierPtr(TierMaster)
	default:
		return tierPtr(TierUnknown)
	}
}

// Plan recomputes UpgradeTier and UpgradePosition for the whole node set.
// The input is not mutated; the result is ordered by upgrade priority.
//
// With a single version in the cluster there is no "already upgraded"
// state, so every node gets a tier and untiered nodes (which cannot occur)
// would sort last. With mixed versions, nodes already at the highest
// version get no tier and sort first so they never block the numbering of
// the nodes still pending.
func Plan(nodes []models.NodeRecord) []models.NodeRecord {
	out := make([]models.NodeRecord, len(nodes))
	copy(out, nodes)
	if len(out) == 0 {
		return out
	}

	versions := make([]string, 0, len(out))
	distinct := make(map[string]struct{}, len(out))
	for _, n := range out {
		versions = append(versions, n.Version)
		distinct[n.Version] = struct{}{}
	}
	singleVersion := len(distinct) == 1

	baseline := ""
	if !singleVersion {
		baseline, _ = version.Highest(versions)
	}

	for i := range out {
		out[i].UpgradeTier = TierFor(out[i].Roles, out[i].Version, baseline)
		out[i].UpgradePosition = nil
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].UpgradeTier, out[j].UpgradeTier
		if (a == nil) != (b == nil) {
			if singleVersion {
				// nil tier last
				return a != nil
			}
			// already-upgraded nodes first
			return a == nil
		}
		if a != nil && *a != *b {
			return *a < *b
		}
		return UptimeSeconds(out[i].Uptime) > UptimeSeconds(out[j].Uptime)
	})

	pos := 0
	for i := range out {
		if out[i].UpgradeTier == nil {
			continue
		}
		pos++
		p := pos
		out[i].UpgradePosition = &p
	}
	return out
}

// UptimeSeconds parses a _cat/nodes uptime value such as "26.5d", "3.2h",
// "12m", "90s" or "500ms" into seconds. Unparseable input counts as zero.
func UptimeSeconds(uptime string) float64 {
	s := strings.TrimSpace(uptime)
	if s == "" {
		return 0
	}
	factor := 0.0
	switch {
	case strings.HasSuffix(s, "ms"):
		factor, s = 0.001, strings.TrimSuffix(s, "ms")
	case strings.HasSuffix(s, "s"):
		factor, s = 1, strings.TrimSuffix(s, "s")
	case strings.HasSuffix(s, "m"):
		factor, s = 60, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "h"):
		factor, s = 3600, strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "d"):
		factor, s = 86400, strings.TrimSuffix(s, "d")
	default:
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * factor
}

func tierPtr(t int) *int {
	return &t
}
