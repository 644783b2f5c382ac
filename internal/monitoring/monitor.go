// Package monitoring owns the connection registry, the per-connection
// polling state machine and the published monitoring snapshot.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/espulse/espulse/internal/config"
	clustererrors "github.com/espulse/espulse/internal/errors"
	"github.com/espulse/espulse/internal/history"
	"github.com/espulse/espulse/internal/metrics"
	"github.com/espulse/espulse/internal/models"
	"github.com/espulse/espulse/internal/upgrade"
	"github.com/espulse/espulse/pkg/elastic"
)

var (
	// ErrLastConnection: deleting the only remaining connection is refused.
	ErrLastConnection = errors.New("cannot delete the last remaining connection")
	// ErrConnectionNotFound: the referenced connection does not exist.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrDuplicateName: connection names are unique.
	ErrDuplicateName = errors.New("a connection with that name already exists")
)

// Monitor is the explicitly owned state container for connections, the
// active selection, polling configuration and the published snapshot. It
// is constructed once at startup and torn down on shutdown; all mutation
// goes through its methods.
type Monitor struct {
	mu            sync.RWMutex
	persistence   *config.ConfigPersistence
	clientFactory ClientFactory
	scheduler     Scheduler
	onPublish     func(*models.MonitoringSnapshot)

	connections  []models.ClusterConnection
	activeID     string
	pollInterval time.Duration
	machine      *Machine
	snapshot     *models.MonitoringSnapshot
	histories    map[string][]models.HealthHistoryRow
	watcher      *config.ConnectionsWatcher
}

// Option customizes a Monitor, mainly for tests.
type Option func(*Monitor)

// WithClientFactory replaces the Elasticsearch client construction.
func WithClientFactory(factory ClientFactory) Option {
	return func(m *Monitor) { m.clientFactory = factory }
}

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(scheduler Scheduler) Option {
	return func(m *Monitor) { m.scheduler = scheduler }
}

// WithPublishHook registers a callback invoked with a copy of every
// published snapshot (the WebSocket hub hangs off this).
func WithPublishHook(hook func(*models.MonitoringSnapshot)) Option {
	return func(m *Monitor) { m.onPublish = hook }
}

// New creates a Monitor backed by the given persistence layer.
func New(cfg *config.Config, persistence *config.ConfigPersistence, opts ...Option) *Monitor {
	m := &Monitor{
		persistence:  persistence,
		scheduler:    NewScheduler(),
		pollInterval: time.Duration(config.DefaultPollIntervalMs) * time.Millisecond,
		histories:    make(map[string][]models.HealthHistoryRow),
	}
	m.clientFactory = func(conn models.ClusterConnection) (ClusterClient, error) {
		return elastic.NewClient(elastic.ClientConfig{
			Host:      conn.URL,
			Username:  conn.Username,
			Password:  conn.Password,
			VerifySSL: cfg.VerifySSL,
		})
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start loads persisted state and activates the remembered (or first)
// connection. With no connections configured the monitor holds in the
// no-connection state until one is added.
func (m *Monitor) Start() {
	connections, err := m.persistence.LoadConnections()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load connections, starting empty")
	}
	settings := m.persistence.LoadSettings()

	m.mu.Lock()
	m.connections = connections
	m.pollInterval = time.Duration(settings.PollIntervalMs) * time.Millisecond

	activeID := ""
	if m.findConnectionLocked(settings.ActiveConnectionID) != nil {
		activeID = settings.ActiveConnectionID
	} else if len(m.connections) > 0 {
		activeID = m.connections[0].ID
	}
	if activeID != "" {
		m.activateLocked(activeID)
	} else {
		log.Info().Msg("No cluster connections configured")
	}
	m.mu.Unlock()

	watcher, err := config.NewConnectionsWatcher(m.persistence.ConnectionsPath(), m.reloadFromDisk)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create connections watcher")
		return
	}
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start connections watcher")
		return
	}
	m.watcher = watcher
}

// Stop tears the monitor down; no timer owned by it fires afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		m.watcher.Stop()
		m.watcher = nil
	}
	m.stopMachineLocked()
}

// GetConnections returns the connection list with credentials redacted.
func (m *Monitor) GetConnections() []models.ClusterConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ClusterConnection, len(m.connections))
	for i, conn := range m.connections {
		conn.Password = ""
		out[i] = conn
	}
	return out
}

// AddConnection registers a new connection. The first connection added
// becomes active automatically.
func (m *Monitor) AddConnection(conn models.ClusterConnection) (models.ClusterConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn.Name == "" || conn.URL == "" {
		return models.ClusterConnection{}, clustererrors.New(clustererrors.ErrorTypeConfig,
			"add_connection", conn.URL, fmt.Errorf("name and url are required"))
	}
	for _, existing := range m.connections {
		if existing.Name == conn.Name {
			return models.ClusterConnection{}, ErrDuplicateName
		}
	}

	conn.ID = uuid.NewString()
	m.connections = append(m.connections, conn)
	m.saveConnectionsLocked()

	if m.activeID == "" {
		m.activateLocked(conn.ID)
	}
	return conn, nil
}

// UpdateConnection edits an existing connection. An empty incoming
// password keeps the stored one, so clients never need to echo secrets
// back. Editing the active connection restarts its machine from
// uninitialized.
func (m *Monitor) UpdateConnection(conn models.ClusterConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.findConnectionLocked(conn.ID)
	if existing == nil {
		return ErrConnectionNotFound
	}
	for _, other := range m.connections {
		if other.ID != conn.ID && other.Name == conn.Name {
			return ErrDuplicateName
		}
	}
	if conn.Password == "" {
		conn.Password = existing.Password
	}
	*existing = conn
	m.saveConnectionsLocked()

	if m.activeID == conn.ID {
		m.activateLocked(conn.ID)
	}
	return nil
}

// DeleteConnection removes a connection. Removing the last one is
// refused; removing the active one activates the next remaining
// connection and restarts monitoring for it.
func (m *Monitor) DeleteConnection(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findConnectionLocked(id) == nil {
		return ErrConnectionNotFound
	}
	if len(m.connections) == 1 {
		return ErrLastConnection
	}

	filtered := m.connections[:0]
	for _, conn := range m.connections {
		if conn.ID != id {
			filtered = append(filtered, conn)
		}
	}
	m.connections = filtered
	delete(m.histories, id)
	m.saveConnectionsLocked()

	if m.activeID == id {
		m.activateLocked(m.connections[0].ID)
	}
	return nil
}

// SetActiveConnection switches monitoring to another connection. The old
// machine is stopped first, so results from its in-flight operations can
// never overwrite the new connection's data.
func (m *Monitor) SetActiveConnection(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findConnectionLocked(id) == nil {
		return ErrConnectionNotFound
	}
	if m.activeID == id {
		return nil
	}
	m.activateLocked(id)
	return nil
}

// SetPollInterval applies and persists a new polling interval in
// milliseconds, clamped to the supported range.
func (m *Monitor) SetPollInterval(ms int) int {
	ms = config.ClampPollInterval(ms)

	m.mu.Lock()
	m.pollInterval = time.Duration(ms) * time.Millisecond
	machine := m.machine
	m.mu.Unlock()

	if machine != nil {
		machine.SetPollInterval(time.Duration(ms) * time.Millisecond)
	}
	m.saveSettings()
	return ms
}

// RetryConnection is the manual reconnect affordance surfaced while the
// connection is degraded.
func (m *Monitor) RetryConnection() error {
	m.mu.RLock()
	machine := m.machine
	m.mu.RUnlock()

	if machine == nil {
		return clustererrors.ErrNoConnection
	}
	machine.RetryNow()
	return nil
}

// GetSnapshot returns a copy of the last published snapshot, nil if no
// cycle has succeeded yet.
func (m *Monitor) GetSnapshot() *models.MonitoringSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Clone()
}

// GetHistory returns the health history of the active connection.
func (m *Monitor) GetHistory() []models.HealthHistoryRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.HealthHistoryRow(nil), m.histories[m.activeID]...)
}

// GetUpgradePlan returns the nodes of the current snapshot in upgrade
// order.
func (m *Monitor) GetUpgradePlan() []models.NodeRecord {
	snapshot := m.GetSnapshot()
	if snapshot == nil {
		return nil
	}
	return snapshot.Nodes
}

// GetStatus reports the UI-facing connection status.
func (m *Monitor) GetStatus() models.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := models.ConnectionStatus{
		PollIntervalMs: int(m.pollInterval / time.Millisecond),
	}

	if m.activeID == "" || m.machine == nil {
		status.State = "no-connection"
		status.LastError = &models.ErrorInfo{
			Kind:    string(clustererrors.ErrorTypeConfig),
			Message: clustererrors.ErrNoConnection.Error(),
		}
		return status
	}

	conn := m.findConnectionLocked(m.activeID)
	status.ActiveConnectionID = m.activeID
	if conn != nil {
		status.ConnectionName = conn.Name
	}
	status.State = m.machine.State().String()
	status.ConnectionFailed = m.machine.ConnectionFailed()
	if lastErr := m.machine.LastError(); lastErr != nil {
		status.LastError = &models.ErrorInfo{
			Kind:    string(lastErr.Type),
			Message: lastErr.Error(),
		}
	}
	if m.snapshot != nil && m.snapshot.ConnectionID == m.activeID {
		status.LastFetchedAt = m.snapshot.FetchedAt
	}
	return status
}

// Flush asks the cluster to flush all indices.
func (m *Monitor) Flush(ctx context.Context) error {
	return m.command(ctx, "flush", func(ctx context.Context, client ClusterClient) error {
		return client.Flush(ctx)
	})
}

// SetShardAllocation toggles cluster-wide shard allocation.
func (m *Monitor) SetShardAllocation(ctx context.Context, enabled bool) error {
	return m.command(ctx, "set_shard_allocation", func(ctx context.Context, client ClusterClient) error {
		return client.SetShardAllocation(ctx, enabled)
	})
}

// SetShardRebalance toggles cluster-wide shard rebalancing.
func (m *Monitor) SetShardRebalance(ctx context.Context, enabled bool) error {
	return m.command(ctx, "set_shard_rebalance", func(ctx context.Context, client ClusterClient) error {
		return client.SetShardRebalance(ctx, enabled)
	})
}

// SetRecoveryThrottle updates the recovery throttling setting.
func (m *Monitor) SetRecoveryThrottle(ctx context.Context, value string) error {
	return m.command(ctx, "set_recovery_throttle", func(ctx context.Context, client ClusterClient) error {
		return client.SetRecoveryMaxBytesPerSec(ctx, value)
	})
}

// command runs a fire-and-forget maintenance operation against the active
// connection. Success triggers an immediate extra fetch cycle; failure is
// surfaced to the caller without touching the machine state.
func (m *Monitor) command(ctx context.Context, name string, fn func(context.Context, ClusterClient) error) error {
	m.mu.RLock()
	machine := m.machine
	m.mu.RUnlock()

	if machine == nil {
		metrics.RecordCommand(name, clustererrors.ErrNoConnection)
		return clustererrors.ErrNoConnection
	}

	err := fn(ctx, machine.Client())
	metrics.RecordCommand(name, err)
	if err != nil {
		log.Warn().Str("command", name).Err(err).Msg("Cluster command failed")
		return err
	}
	machine.RefreshNow()
	return nil
}

// publish receives snapshots from the machine. Results originating from a
// connection that is no longer active are discarded.
func (m *Monitor) publish(snapshot *models.MonitoringSnapshot) {
	m.mu.Lock()
	if snapshot.ConnectionID != m.activeID {
		m.mu.Unlock()
		log.Debug().Str("connection", snapshot.ConnectionID).Msg("Discarding snapshot from inactive connection")
		return
	}

	snapshot.Nodes = upgrade.Plan(snapshot.Nodes)
	m.histories[snapshot.ConnectionID] = history.Merge(
		m.histories[snapshot.ConnectionID],
		[]models.HealthHistoryRow{snapshot.HealthRow},
	)
	m.snapshot = snapshot
	hook := m.onPublish
	m.mu.Unlock()

	if hook != nil {
		hook(snapshot.Clone())
	}
}

// activateLocked switches the machine to the given connection ID.
func (m *Monitor) activateLocked(id string) {
	conn := m.findConnectionLocked(id)
	if conn == nil {
		return
	}

	m.stopMachineLocked()
	m.activeID = id

	client, err := m.clientFactory(*conn)
	if err != nil {
		log.Error().Str("connection", conn.Name).Err(err).Msg("Failed to build cluster client")
		m.saveSettingsLocked()
		return
	}

	log.Info().Str("connection", conn.Name).Str("url", conn.URL).Msg("Activating cluster connection")
	m.machine = NewMachine(*conn, client, m.pollInterval, m.scheduler, m.publish)
	m.machine.Start()
	m.saveSettingsLocked()
}

func (m *Monitor) stopMachineLocked() {
	if m.machine != nil {
		m.machine.Stop()
		m.machine = nil
	}
}

// reloadFromDisk handles external edits to the connections file.
func (m *Monitor) reloadFromDisk() {
	connections, err := m.persistence.LoadConnections()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to reload connections file")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var previousActive models.ClusterConnection
	if conn := m.findConnectionLocked(m.activeID); conn != nil {
		previousActive = *conn
	}
	m.connections = connections

	active := m.findConnectionLocked(m.activeID)
	switch {
	case len(m.connections) == 0:
		m.stopMachineLocked()
		m.activeID = ""
	case active == nil:
		m.activateLocked(m.connections[0].ID)
	case *active != previousActive:
		m.activateLocked(active.ID)
	}
}

func (m *Monitor) findConnectionLocked(id string) *models.ClusterConnection {
	if id == "" {
		return nil
	}
	for i := range m.connections {
		if m.connections[i].ID == id {
			return &m.connections[i]
		}
	}
	return nil
}

// saveConnectionsLocked persists the connection list, best effort.
func (m *Monitor) saveConnectionsLocked() {
	if err := m.persistence.SaveConnections(m.connections); err != nil {
		log.Warn().Err(err).Msg("Failed to save connections")
	}
}

func (m *Monitor) saveSettingsLocked() {
	settings := config.Settings{
		PollIntervalMs:     int(m.pollInterval / time.Millisecond),
		ActiveConnectionID: m.activeID,
	}
	if err := m.persistence.SaveSettings(settings); err != nil {
		log.Warn().Err(err).Msg("Failed to save settings")
	}
}

func (m *Monitor) saveSettings() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.saveSettingsLocked()
}
