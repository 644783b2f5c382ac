package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	clustererrors "github.com/espulse/espulse/internal/errors"
	"github.com/espulse/espulse/internal/models"
)

// manualScheduler records scheduled tasks so tests can fire timers
// deterministically instead of sleeping.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	mu       sync.Mutex
	delay    time.Duration
	fn       func()
	canceled bool
	fired    bool
}

func (t *manualTask) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.canceled {
		return false
	}
	t.canceled = true
	return true
}

func (t *manualTask) fire() bool {
	t.mu.Lock()
	if t.fired || t.canceled {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
	return true
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{}
}

func (s *manualScheduler) Schedule(d time.Duration, fn func()) TaskHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &manualTask{delay: d, fn: fn}
	s.tasks = append(s.tasks, task)
	return task
}

// pending returns the tasks that are neither fired nor cancelled.
func (s *manualScheduler) pending() []*manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTask
	for _, task := range s.tasks {
		task.mu.Lock()
		live := !task.fired && !task.canceled
		task.mu.Unlock()
		if live {
			out = append(out, task)
		}
	}
	return out
}

// fireNext fires the oldest pending task.
func (s *manualScheduler) fireNext() bool {
	for _, task := range s.pending() {
		if task.fire() {
			return true
		}
	}
	return false
}

// fakeClient is a canned ClusterClient. Error fields apply to the next
// matching call; fetchGate, when set, blocks data requests until closed.
type fakeClient struct {
	mu         sync.Mutex
	pingErr    error
	fetchErr   error
	fetchGate  chan struct{}
	pingCount  int
	fetchCount int
}

func newFakeClient() *fakeClient {
	return &fakeClient{}
}

func (f *fakeClient) BaseURL() string { return "http://fake:9200" }

func (f *fakeClient) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeClient) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeClient) pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingCount
}

func (f *fakeClient) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCount
}

func (f *fakeClient) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCount++
	return f.pingErr
}

// enter marks one data request and returns the error configured for it.
func (f *fakeClient) enter() (chan struct{}, error) {
	f.mu.Lock()
	gate := f.fetchGate
	err := f.fetchErr
	f.fetchCount++
	f.mu.Unlock()
	return gate, err
}

func (f *fakeClient) CatAllocation(ctx context.Context) ([]models.AllocationRow, error) {
	gate, err := f.enter()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return []models.AllocationRow{{Node: "node-1", Shards: "10"}}, nil
}

func (f *fakeClient) CatRecovery(ctx context.Context) ([]models.RecoveryRow, error) {
	return nil, nil
}

func (f *fakeClient) ClusterHealth(ctx context.Context) (models.ClusterHealth, error) {
	return models.ClusterHealth{ClusterName: "fake", Status: "green"}, nil
}

func (f *fakeClient) CatNodes(ctx context.Context) ([]models.NodeRecord, error) {
	return []models.NodeRecord{
		{Name: "hot-1", Roles: "him", Version: "8.15.0", Uptime: "2d"},
		{Name: "master-1", Roles: "m", Version: "8.15.0", Uptime: "3d"},
	}, nil
}

func (f *fakeClient) ClusterSettings(ctx context.Context) (models.ClusterSettings, error) {
	return models.ClusterSettings{}, nil
}

func (f *fakeClient) CatHealth(ctx context.Context) (models.HealthHistoryRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.HealthHistoryRow{Epoch: int64(1724930000 + f.fetchCount), Status: "green"}, nil
}

func (f *fakeClient) Flush(ctx context.Context) error { return f.commandErr() }

func (f *fakeClient) SetShardAllocation(ctx context.Context, enabled bool) error {
	return f.commandErr()
}

func (f *fakeClient) SetShardRebalance(ctx context.Context, enabled bool) error {
	return f.commandErr()
}

func (f *fakeClient) SetRecoveryMaxBytesPerSec(ctx context.Context, value string) error {
	return f.commandErr()
}

func (f *fakeClient) commandErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchErr
}

func connectivityErr(op string) *clustererrors.ClusterError {
	return clustererrors.New(clustererrors.ErrorTypeConnectivity, op, "http://fake:9200",
		fmt.Errorf("dial tcp: connection refused"))
}

func timeoutErr(op string) *clustererrors.ClusterError {
	return clustererrors.New(clustererrors.ErrorTypeTimeout, op, "http://fake:9200",
		context.DeadlineExceeded)
}

func apiErr(op string, status int) *clustererrors.ClusterError {
	return clustererrors.New(clustererrors.ErrorTypeAPI, op, "http://fake:9200",
		fmt.Errorf("unexpected status %d", status)).WithStatusCode(status)
}
