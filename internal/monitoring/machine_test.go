package monitoring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clustererrors "github.com/espulse/espulse/internal/errors"
	"github.com/espulse/espulse/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []*models.MonitoringSnapshot
}

func (r *snapshotRecorder) record(s *models.MonitoringSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func newTestMachine(client ClusterClient) (*Machine, *manualScheduler, *snapshotRecorder) {
	scheduler := newManualScheduler()
	recorder := &snapshotRecorder{}
	conn := models.ClusterConnection{ID: "conn-1", Name: "prod", URL: "http://fake:9200"}
	machine := NewMachine(conn, client, 5*time.Second, scheduler, recorder.record)
	return machine, scheduler, recorder
}

func TestMachineHappyPath(t *testing.T) {
	client := newFakeClient()
	machine, scheduler, recorder := newTestMachine(client)

	assert.Equal(t, StateUninitialized, machine.State())

	machine.Start()
	// Activation is debounced: nothing happens until the timer fires.
	require.Len(t, scheduler.pending(), 1)
	assert.Equal(t, 0, client.pings())

	require.True(t, scheduler.fireNext())

	require.Eventually(t, func() bool {
		return machine.State() == StateIdle
	}, waitFor, tick)

	assert.Equal(t, 1, client.pings())
	assert.Equal(t, 1, recorder.count())
	assert.False(t, machine.ConnectionFailed())
	assert.Nil(t, machine.LastError())

	// Next poll tick is armed.
	assert.Len(t, scheduler.pending(), 1)
}

func TestMachineHealthCheckIsOneShot(t *testing.T) {
	client := newFakeClient()
	machine, scheduler, _ := newTestMachine(client)

	machine.Start()
	machine.Start()
	assert.Len(t, scheduler.pending(), 1)

	require.True(t, scheduler.fireNext())
	require.Eventually(t, func() bool { return machine.State() == StateIdle }, waitFor, tick)

	// A late duplicate activation does not re-probe.
	machine.beginHealthCheck()
	assert.Equal(t, 1, client.pings())
}

func TestMachineHealthCheckFailureEntersDegraded(t *testing.T) {
	client := newFakeClient()
	client.setPingErr(connectivityErr("ping"))
	machine, scheduler, recorder := newTestMachine(client)

	machine.Start()
	require.True(t, scheduler.fireNext())

	require.Eventually(t, func() bool {
		return machine.State() == StateDegraded
	}, waitFor, tick)

	assert.True(t, machine.ConnectionFailed())
	assert.Equal(t, 0, recorder.count())

	// Exactly one coarse retry timer, at the degraded interval.
	pending := scheduler.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, degradedRetryInterval, pending[0].delay)

	// Repeated probe failures re-arm a single timer, they do not stack.
	for i := 0; i < 3; i++ {
		require.True(t, scheduler.fireNext())
		require.Eventually(t, func() bool {
			return len(scheduler.pending()) == 1
		}, waitFor, tick)
		assert.Equal(t, StateDegraded, machine.State())
	}
}

func TestMachineDegradedRecovery(t *testing.T) {
	client := newFakeClient()
	client.setPingErr(connectivityErr("ping"))
	machine, scheduler, recorder := newTestMachine(client)

	machine.Start()
	require.True(t, scheduler.fireNext())
	require.Eventually(t, func() bool { return machine.State() == StateDegraded }, waitFor, tick)

	// Probe succeeds: the machine recovers straight into a fetch cycle.
	client.setPingErr(nil)
	require.True(t, scheduler.fireNext())

	require.Eventually(t, func() bool {
		return machine.State() == StateIdle && recorder.count() == 1
	}, waitFor, tick)
	assert.False(t, machine.ConnectionFailed())
	assert.Nil(t, machine.LastError())
}

func TestMachineTransientFailureKeepsPolling(t *testing.T) {
	client := newFakeClient()
	client.setFetchErr(apiErr("cat_allocation", 500))
	machine, scheduler, recorder := newTestMachine(client)

	machine.Start()
	require.True(t, scheduler.fireNext())

	require.Eventually(t, func() bool {
		return machine.State() == StateIdle && machine.LastError() != nil
	}, waitFor, tick)

	assert.False(t, machine.ConnectionFailed())
	assert.Equal(t, clustererrors.ErrorTypeAPI, machine.LastError().Type)
	assert.Equal(t, 0, recorder.count())

	// Polling continues: the next tick reruns a cycle that now succeeds.
	client.setFetchErr(nil)
	require.True(t, scheduler.fireNext())
	require.Eventually(t, func() bool { return recorder.count() == 1 }, waitFor, tick)
	assert.Nil(t, machine.LastError())
}

func TestMachineTimeoutWithHealthyProbeIsTransient(t *testing.T) {
	client := newFakeClient()
	client.setFetchErr(timeoutErr("cat_allocation"))
	machine, scheduler, _ := newTestMachine(client)

	machine.Start()
	require.True(t, scheduler.fireNext())

	require.Eventually(t, func() bool {
		return machine.State() == StateIdle && machine.LastError() != nil
	}, waitFor, tick)

	assert.False(t, machine.ConnectionFailed())
	// Initial health check plus the classification re-probe.
	assert.Equal(t, 2, client.pings())
}

func TestMachineTimeoutWithFailedProbeIsConnectivity(t *testing.T) {
	client := newFakeClient()
	machine, scheduler, _ := newTestMachine(client)

	machine.Start()
	require.True(t, scheduler.fireNext())
	require.Eventually(t, func() bool { return machine.State() == StateIdle }, waitFor, tick)

	// Next cycle times out and the confirming probe fails too.
	client.setFetchErr(timeoutErr("cat_allocation"))
	client.setPingErr(connectivityErr("ping"))
	require.True(t, scheduler.fireNext())

	require.Eventually(t, func() bool {
		return machine.State() == StateDegraded
	}, waitFor, tick)
	assert.True(t, machine.ConnectionFailed())
	assert.Equal(t, clustererrors.ErrorTypeConnectivity, machine.LastError().Type)
}

func TestMachineTickSkippedWhileFetchOutstanding(t *testing.T) {
	client := newFakeClient()
	gate := make(chan struct{})
	client.fetchGate = gate
	machine, _, recorder := newTestMachine(client)

	machine.Start()
	machine.beginHealthCheck()
	require.Eventually(t, func() bool { return machine.State() == StateFetching }, waitFor, tick)

	before := client.fetches()
	// A tick arriving while the cycle is outstanding must not start a
	// second one.
	machine.pollTick()
	machine.pollTick()
	assert.Equal(t, before, client.fetches())

	close(gate)
	require.Eventually(t, func() bool { return recorder.count() == 1 }, waitFor, tick)
}

func TestMachineStopDiscardsInFlightResult(t *testing.T) {
	client := newFakeClient()
	gate := make(chan struct{})
	client.fetchGate = gate
	machine, _, recorder := newTestMachine(client)

	machine.Start()
	machine.beginHealthCheck()
	require.Eventually(t, func() bool { return machine.State() == StateFetching }, waitFor, tick)

	machine.Stop()
	close(gate)

	// The late result is dropped, never published.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, recorder.count())
	assert.Equal(t, StateStopped, machine.State())
}

func TestMachineStopCancelsTimers(t *testing.T) {
	client := newFakeClient()
	machine, scheduler, _ := newTestMachine(client)

	machine.Start()
	require.Len(t, scheduler.pending(), 1)

	machine.Stop()
	assert.Empty(t, scheduler.pending())
}

func TestMachineRetryNowRestartsDegradedTimer(t *testing.T) {
	client := newFakeClient()
	client.setPingErr(connectivityErr("ping"))
	machine, scheduler, _ := newTestMachine(client)

	machine.Start()
	require.True(t, scheduler.fireNext())
	require.Eventually(t, func() bool { return machine.State() == StateDegraded }, waitFor, tick)
	require.Len(t, scheduler.pending(), 1)

	// Manual retry cancels the pending probe timer and probes right away;
	// the renewed failure arms exactly one fresh timer.
	pingsBefore := client.pings()
	machine.RetryNow()

	require.Eventually(t, func() bool { return client.pings() > pingsBefore }, waitFor, tick)
	require.Eventually(t, func() bool {
		return machine.State() == StateDegraded && len(scheduler.pending()) == 1
	}, waitFor, tick)
}

func TestMachineRefreshNowOnlyWhenIdle(t *testing.T) {
	client := newFakeClient()
	machine, scheduler, recorder := newTestMachine(client)

	// Not started yet: refresh is a no-op.
	machine.RefreshNow()
	assert.Equal(t, 0, client.fetches())

	machine.Start()
	require.True(t, scheduler.fireNext())
	require.Eventually(t, func() bool { return machine.State() == StateIdle }, waitFor, tick)

	machine.RefreshNow()
	require.Eventually(t, func() bool { return recorder.count() == 2 }, waitFor, tick)
}

func TestMachineSetPollIntervalReschedules(t *testing.T) {
	client := newFakeClient()
	machine, scheduler, _ := newTestMachine(client)

	machine.Start()
	require.True(t, scheduler.fireNext())
	require.Eventually(t, func() bool { return machine.State() == StateIdle }, waitFor, tick)

	pending := scheduler.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 5*time.Second, pending[0].delay)

	machine.SetPollInterval(30 * time.Second)
	pending = scheduler.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 30*time.Second, pending[0].delay)
}
