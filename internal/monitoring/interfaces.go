package monitoring

import (
	"context"

	"github.com/espulse/espulse/internal/models"
)

// ClusterClient is the slice of the Elasticsearch API the monitor needs.
// *elastic.Client implements it; tests substitute fakes.
type ClusterClient interface {
	BaseURL() string
	Ping(ctx context.Context) error

	CatAllocation(ctx context.Context) ([]models.AllocationRow, error)
	CatRecovery(ctx context.Context) ([]models.RecoveryRow, error)
	ClusterHealth(ctx context.Context) (models.ClusterHealth, error)
	CatNodes(ctx context.Context) ([]models.NodeRecord, error)
	ClusterSettings(ctx context.Context) (models.ClusterSettings, error)
	CatHealth(ctx context.Context) (models.HealthHistoryRow, error)

	Flush(ctx context.Context) error
	SetShardAllocation(ctx context.Context, enabled bool) error
	SetShardRebalance(ctx context.Context, enabled bool) error
	SetRecoveryMaxBytesPerSec(ctx context.Context, value string) error
}

// ClientFactory builds a client for a connection. Swapped in tests.
type ClientFactory func(conn models.ClusterConnection) (ClusterClient, error)
