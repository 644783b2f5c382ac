package models

import (
	"time"
)

// ClusterConnection identifies one Elasticsearch cluster the monitor can
// poll. Name is unique across connections; credentials are optional and
// only attached to requests when both fields are set.
type ClusterConnection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// NodeRecord is one row from _cat/nodes plus the derived upgrade fields.
// UpgradeTier and UpgradePosition are recomputed from the current node set
// every cycle and are either both set or both nil ("already upgraded" or
// not applicable).
type NodeRecord struct {
	Roles           string `json:"roles"`
	Name            string `json:"name"`
	IP              string `json:"ip,omitempty"`
	Version         string `json:"version"`
	Uptime          string `json:"uptime"`
	Master          string `json:"master,omitempty"`
	UpgradeTier     *int   `json:"upgradeTier,omitempty"`
	UpgradePosition *int   `json:"upgradePosition,omitempty"`
}

// AllocationRow is one row from _cat/allocation.
type AllocationRow struct {
	Shards      string `json:"shards"`
	DiskIndices string `json:"disk.indices"`
	DiskUsed    string `json:"disk.used"`
	DiskAvail   string `json:"disk.avail"`
	DiskTotal   string `json:"disk.total"`
	DiskPercent string `json:"disk.percent"`
	Host        string `json:"host"`
	IP          string `json:"ip"`
	Node        string `json:"node"`
}

// RecoveryRow is one row from _cat/recovery.
type RecoveryRow struct {
	Index        string `json:"index"`
	Shard        string `json:"shard"`
	Time         string `json:"time"`
	Type         string `json:"type"`
	Stage        string `json:"stage"`
	SourceNode   string `json:"source_node"`
	TargetNode   string `json:"target_node"`
	FilesPercent string `json:"files_percent"`
	BytesPercent string `json:"bytes_percent"`
}

// ClusterHealth is the response of _cluster/health.
type ClusterHealth struct {
	ClusterName                 string  `json:"cluster_name"`
	Status                      string  `json:"status"`
	TimedOut                    bool    `json:"timed_out"`
	NumberOfNodes               int     `json:"number_of_nodes"`
	NumberOfDataNodes           int     `json:"number_of_data_nodes"`
	ActivePrimaryShards         int     `json:"active_primary_shards"`
	ActiveShards                int     `json:"active_shards"`
	RelocatingShards            int     `json:"relocating_shards"`
	InitializingShards          int     `json:"initializing_shards"`
	UnassignedShards            int     `json:"unassigned_shards"`
	PendingTasks                int     `json:"number_of_pending_tasks"`
	ActiveShardsPercentAsNumber float64 `json:"active_shards_percent_as_number"`
}

// ClusterSettings is the response of _cluster/settings with flat_settings.
// Keys are dotted setting names; values are usually strings but array
// settings decode as JSON arrays.
type ClusterSettings struct {
	Persistent map[string]any `json:"persistent"`
	Transient  map[string]any `json:"transient"`
}

// HealthHistoryRow is one _cat/health observation. Rows are keyed by
// Epoch, which is assumed unique per cluster.
type HealthHistoryRow struct {
	Epoch        int64  `json:"epoch,string"`
	Timestamp    string `json:"timestamp"`
	Cluster      string `json:"cluster"`
	Status       string `json:"status"`
	NodeTotal    string `json:"node.total"`
	NodeData     string `json:"node.data"`
	Shards       string `json:"shards"`
	Primary      string `json:"pri"`
	Relocating   string `json:"relo"`
	Initializing string `json:"init"`
	Unassigned   string `json:"unassign"`
	PendingTasks string `json:"pending_tasks"`
	ActivePct    string `json:"active_shards_percent"`
}

// ErrorInfo is the API-facing rendering of a classified failure.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ConnectionStatus is the UI-facing view of the active connection and its
// state machine.
type ConnectionStatus struct {
	ActiveConnectionID string     `json:"activeConnectionId,omitempty"`
	ConnectionName     string     `json:"connectionName,omitempty"`
	State              string     `json:"state"`
	ConnectionFailed   bool       `json:"connectionFailed"`
	LastError          *ErrorInfo `json:"lastError,omitempty"`
	LastFetchedAt      time.Time  `json:"lastFetchedAt,omitzero"`
	PollIntervalMs     int        `json:"pollIntervalMs"`
}

// MonitoringSnapshot is one complete, internally consistent set of cluster
// data fetched in a single cycle. It is replaced wholesale on every
// successful cycle and never mutated after publication; ConnectionID
// records the connection the cycle ran against so stale results can be
// discarded on connection switch.
type MonitoringSnapshot struct {
	ConnectionID string             `json:"connectionId"`
	Allocation   []AllocationRow    `json:"allocation"`
	Recovery     []RecoveryRow      `json:"recovery"`
	Health       ClusterHealth      `json:"health"`
	Nodes        []NodeRecord       `json:"nodes"`
	Settings     ClusterSettings    `json:"settings"`
	HealthRow    HealthHistoryRow   `json:"healthRow"`
	FetchedAt    time.Time          `json:"fetchedAt"`
}
