package monitoring

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	clustererrors "github.com/espulse/espulse/internal/errors"
	"github.com/espulse/espulse/internal/metrics"
	"github.com/espulse/espulse/internal/models"
)

const (
	// activationDebounce guards against rapid connection re-selection
	// kicking off several overlapping health checks.
	activationDebounce = 300 * time.Millisecond

	// degradedRetryInterval is the coarse re-probe period while the
	// cluster is unreachable.
	degradedRetryInterval = 60 * time.Second
)

// Machine is the connection state machine for one activation of one
// connection. A new Machine is built on every activation; switching or
// removing the connection stops the old machine, which discards any
// in-flight results.
type Machine struct {
	conn      models.ClusterConnection
	client    ClusterClient
	scheduler Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	state            State
	pollInterval     time.Duration
	healthCheckDone  bool
	connectionFailed bool
	lastErr          *clustererrors.ClusterError
	fetchInFlight    bool
	stopped          bool

	debounceTimer TaskHandle
	pollTimer     TaskHandle
	degradedTimer TaskHandle

	// onSnapshot receives every successfully fetched snapshot; the owner
	// decides whether it is still current before publishing.
	onSnapshot func(*models.MonitoringSnapshot)
}

// NewMachine builds a machine in the uninitialized state.
func NewMachine(conn models.ClusterConnection, client ClusterClient, pollInterval time.Duration,
	scheduler Scheduler, onSnapshot func(*models.MonitoringSnapshot)) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		conn:         conn,
		client:       client,
		scheduler:    scheduler,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateUninitialized,
		pollInterval: pollInterval,
		onSnapshot:   onSnapshot,
	}
}

// Start schedules the initial health check after the activation debounce.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.healthCheckDone || m.debounceTimer != nil {
		return
	}
	m.debounceTimer = m.scheduler.Schedule(activationDebounce, m.beginHealthCheck)
}

// Stop tears the machine down: all timers are cancelled, the in-flight
// cycle's context is cancelled and any late results are discarded.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	m.cancelTimersLocked()
	m.cancel()
	if m.connectionFailed {
		metrics.ConnectionDegraded.Set(0)
	}
	m.setStateLocked(StateStopped)
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionFailed reports whether the machine is in degraded mode.
func (m *Machine) ConnectionFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionFailed
}

// LastError returns the most recent classified failure, if any.
func (m *Machine) LastError() *clustererrors.ClusterError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connection returns the connection this machine was built for.
func (m *Machine) Connection() models.ClusterConnection {
	return m.conn
}

// Client exposes the underlying cluster client for maintenance commands.
func (m *Machine) Client() ClusterClient {
	return m.client
}

// SetPollInterval applies a new polling interval. A pending idle tick is
// rescheduled so the old interval's timer cannot keep firing.
func (m *Machine) SetPollInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollInterval = interval
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	if m.state == StateIdle && !m.stopped {
		m.pollTimer = m.scheduler.Schedule(m.pollInterval, m.pollTick)
	}
}

// RetryNow is the manual reconnect affordance. It restarts (never stacks)
// the degraded timer, resets the one-shot health check guard and probes
// immediately.
func (m *Machine) RetryNow() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.cancelTimersLocked()
	m.healthCheckDone = false
	m.mu.Unlock()

	m.beginHealthCheck()
}

// RefreshNow triggers an immediate extra fetch cycle, used after a
// successful mutating command. It is a no-op unless the machine is idle.
func (m *Machine) RefreshNow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.state != StateIdle || m.fetchInFlight {
		return
	}
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	m.startFetchLocked()
}

// beginHealthCheck runs the cheap probe; one-shot per activation.
func (m *Machine) beginHealthCheck() {
	m.mu.Lock()
	if m.stopped || m.healthCheckDone {
		m.mu.Unlock()
		return
	}
	m.healthCheckDone = true
	m.setStateLocked(StateCheckingHealth)
	m.mu.Unlock()

	go func() {
		err := m.client.Ping(m.ctx)
		metrics.RecordProbe(err == nil)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped {
			return
		}
		if err != nil {
			log.Warn().Str("endpoint", m.client.BaseURL()).Err(err).Msg("Connection health check failed")
			m.enterDegradedLocked(asClusterError(err))
			return
		}
		m.connectionFailed = false
		m.lastErr = nil
		metrics.ConnectionDegraded.Set(0)
		m.startFetchLocked()
	}()
}

// pollTick fires on the recurring idle timer. A tick that arrives while
// the previous cycle is still outstanding, or after the machine degraded,
// is skipped entirely.
func (m *Machine) pollTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollTimer = nil
	if m.stopped || m.state == StateDegraded {
		return
	}
	if m.fetchInFlight {
		metrics.RecordCycleOutcome("skipped")
		m.pollTimer = m.scheduler.Schedule(m.pollInterval, m.pollTick)
		return
	}
	m.startFetchLocked()
}

// startFetchLocked launches a fetch cycle; cycles are serialized per
// connection, so an outstanding cycle makes this a no-op.
func (m *Machine) startFetchLocked() {
	if m.fetchInFlight || m.stopped {
		return
	}
	m.fetchInFlight = true
	m.setStateLocked(StateFetching)

	go func() {
		started := time.Now()
		snapshot, err := fetchCycle(m.ctx, m.client, m.conn.ID)
		metrics.FetchCycleDuration.Observe(time.Since(started).Seconds())
		m.completeFetch(snapshot, err)
	}()
}

// completeFetch interprets the outcome of a fetch cycle.
func (m *Machine) completeFetch(snapshot *models.MonitoringSnapshot, err error) {
	m.mu.Lock()
	m.fetchInFlight = false
	if m.stopped {
		m.mu.Unlock()
		return
	}

	if err == nil {
		m.lastErr = nil
		m.setStateLocked(StateIdle)
		m.scheduleNextPollLocked()
		m.mu.Unlock()

		metrics.RecordCycleOutcome("success")
		if m.onSnapshot != nil {
			m.onSnapshot(snapshot)
		}
		return
	}
	m.mu.Unlock()

	m.handleFetchFailure(err)
}

// handleFetchFailure classifies a failed cycle. Timeouts are re-probed
// synchronously: only a failed probe turns a timeout into a connectivity
// failure. Connectivity failures degrade the machine; everything else is
// transient and polling continues.
func (m *Machine) handleFetchFailure(err error) {
	cerr := asClusterError(err)

	if cerr.Type == clustererrors.ErrorTypeTimeout {
		probeErr := m.client.Ping(m.ctx)
		metrics.RecordProbe(probeErr == nil)
		if probeErr != nil {
			cerr = clustererrors.New(clustererrors.ErrorTypeConnectivity, cerr.Op, m.client.BaseURL(), cerr.Err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	if cerr.Type == clustererrors.ErrorTypeConnectivity {
		metrics.RecordCycleOutcome("connectivity")
		m.enterDegradedLocked(cerr)
		return
	}

	// Transient: surface the error but keep the polling loop alive and
	// the previous snapshot in place.
	metrics.RecordCycleOutcome("transient")
	log.Warn().Str("endpoint", m.client.BaseURL()).Err(cerr).Msg("Fetch cycle failed, continuing to poll")
	m.lastErr = cerr
	m.setStateLocked(StateIdle)
	m.scheduleNextPollLocked()
}

// enterDegradedLocked suspends polling and arms the coarse retry timer.
// Repeated failures restart the existing timer rather than stacking new
// ones.
func (m *Machine) enterDegradedLocked(cerr *clustererrors.ClusterError) {
	log.Error().Str("endpoint", m.client.BaseURL()).Err(cerr).Msg("Cluster unreachable, entering degraded mode")
	m.lastErr = cerr
	m.connectionFailed = true
	m.cancelTimersLocked()
	m.setStateLocked(StateDegraded)
	metrics.ConnectionDegraded.Set(1)
	m.degradedTimer = m.scheduler.Schedule(degradedRetryInterval, m.degradedProbe)
}

// degradedProbe re-probes the cluster while degraded. Success clears the
// failure flag and recovers straight into a fetch cycle.
func (m *Machine) degradedProbe() {
	m.mu.Lock()
	if m.stopped || m.state != StateDegraded {
		m.mu.Unlock()
		return
	}
	m.degradedTimer = nil
	m.mu.Unlock()

	err := m.client.Ping(m.ctx)
	metrics.RecordProbe(err == nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.state != StateDegraded {
		return
	}
	if err != nil {
		m.degradedTimer = m.scheduler.Schedule(degradedRetryInterval, m.degradedProbe)
		return
	}

	log.Info().Str("endpoint", m.client.BaseURL()).Msg("Cluster reachable again, resuming polling")
	m.connectionFailed = false
	m.lastErr = nil
	metrics.ConnectionDegraded.Set(0)
	m.startFetchLocked()
}

func (m *Machine) scheduleNextPollLocked() {
	if m.pollTimer != nil {
		m.pollTimer.Stop()
	}
	m.pollTimer = m.scheduler.Schedule(m.pollInterval, m.pollTick)
}

func (m *Machine) cancelTimersLocked() {
	for _, handle := range []TaskHandle{m.debounceTimer, m.pollTimer, m.degradedTimer} {
		if handle != nil {
			handle.Stop()
		}
	}
	m.debounceTimer, m.pollTimer, m.degradedTimer = nil, nil, nil
}

func (m *Machine) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.state = state
	metrics.RecordTransition(state.String())
	log.Debug().Str("connection", m.conn.Name).Str("state", state.String()).Msg("Connection state changed")
}

// asClusterError normalizes anything that escaped typing at the client
// boundary into an API-class error.
func asClusterError(err error) *clustererrors.ClusterError {
	var cerr *clustererrors.ClusterError
	if stderrors.As(err, &cerr) {
		return cerr
	}
	return clustererrors.New(clustererrors.ErrorTypeAPI, "fetch", "", err)
}
