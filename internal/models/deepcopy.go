package models

// Clone returns a deep copy of the snapshot so consumers can never mutate
// the published instance.
func (s *MonitoringSnapshot) Clone() *MonitoringSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Allocation = append([]AllocationRow(nil), s.Allocation...)
	out.Recovery = append([]RecoveryRow(nil), s.Recovery...)
	out.Nodes = make([]NodeRecord, len(s.Nodes))
	for i, n := range s.Nodes {
		out.Nodes[i] = n
		if n.UpgradeTier != nil {
			tier := *n.UpgradeTier
			out.Nodes[i].UpgradeTier = &tier
		}
		if n.UpgradePosition != nil {
			pos := *n.UpgradePosition
			out.Nodes[i].UpgradePosition = &pos
		}
	}
	out.Settings.Persistent = copySettingsMap(s.Settings.Persistent)
	out.Settings.Transient = copySettingsMap(s.Settings.Transient)
	return &out
}

// Values are decoded JSON and never mutated, so an entry-level copy is
// enough.
func copySettingsMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
