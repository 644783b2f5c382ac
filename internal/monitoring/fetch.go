package monitoring

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	clustererrors "github.com/espulse/espulse/internal/errors"
	"github.com/espulse/espulse/internal/models"
)

// fetchCycle issues the six sub-requests of one cycle concurrently. The
// cycle only succeeds when all of them do; a cycle with any failure
// returns nothing so the previous snapshot stays in place. Siblings are
// not cancelled when one fails; each runs to its own timeout.
func fetchCycle(ctx context.Context, client ClusterClient, connectionID string) (*models.MonitoringSnapshot, error) {
	snapshot := &models.MonitoringSnapshot{ConnectionID: connectionID}

	var g errgroup.Group
	var allocErr, recoveryErr, healthErr, nodesErr, settingsErr, catHealthErr error

	g.Go(func() error {
		snapshot.Allocation, allocErr = client.CatAllocation(ctx)
		return allocErr
	})
	g.Go(func() error {
		snapshot.Recovery, recoveryErr = client.CatRecovery(ctx)
		return recoveryErr
	})
	g.Go(func() error {
		snapshot.Health, healthErr = client.ClusterHealth(ctx)
		return healthErr
	})
	g.Go(func() error {
		snapshot.Nodes, nodesErr = client.CatNodes(ctx)
		return nodesErr
	})
	g.Go(func() error {
		snapshot.Settings, settingsErr = client.ClusterSettings(ctx)
		return settingsErr
	})
	g.Go(func() error {
		snapshot.HealthRow, catHealthErr = client.CatHealth(ctx)
		return catHealthErr
	})

	_ = g.Wait()

	if err := worstError(allocErr, recoveryErr, healthErr, nodesErr, settingsErr, catHealthErr); err != nil {
		return nil, err
	}

	snapshot.FetchedAt = time.Now()
	return snapshot, nil
}

// worstError picks the failure that decides the cycle's classification:
// a connectivity failure outranks a timeout, which outranks anything
// else. With only same-rank failures the first one wins.
func worstError(errs ...error) error {
	var timeoutErr, otherErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		switch clustererrors.TypeOf(err) {
		case clustererrors.ErrorTypeConnectivity:
			return err
		case clustererrors.ErrorTypeTimeout:
			if timeoutErr == nil {
				timeoutErr = err
			}
		default:
			if otherErr == nil {
				otherErr = err
			}
		}
	}
	if timeoutErr != nil {
		return timeoutErr
	}
	return otherErr
}
