package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clustererrors "github.com/espulse/espulse/internal/errors"
)

func TestFetchCycleAllOrNothing(t *testing.T) {
	client := newFakeClient()

	snapshot, err := fetchCycle(context.Background(), client, "conn-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, "conn-1", snapshot.ConnectionID)
	assert.Equal(t, "green", snapshot.Health.Status)
	assert.Len(t, snapshot.Nodes, 2)
	assert.False(t, snapshot.FetchedAt.IsZero())

	// One failing sub-request fails the cycle; nothing is returned.
	client.setFetchErr(apiErr("cat_allocation", 503))
	snapshot, err = fetchCycle(context.Background(), client, "conn-1")
	require.Error(t, err)
	assert.Nil(t, snapshot)
}

func TestWorstError(t *testing.T) {
	conn := connectivityErr("cat_nodes")
	timeout := timeoutErr("cat_health")
	api := apiErr("cat_allocation", 500)

	assert.Nil(t, worstError(nil, nil, nil))

	// Connectivity outranks everything.
	assert.Equal(t, clustererrors.ErrorTypeConnectivity, clustererrors.TypeOf(worstError(api, timeout, conn)))

	// Timeout outranks plain API failures.
	assert.Equal(t, clustererrors.ErrorTypeTimeout, clustererrors.TypeOf(worstError(api, timeout)))

	assert.Equal(t, clustererrors.ErrorTypeAPI, clustererrors.TypeOf(worstError(nil, api)))
}
