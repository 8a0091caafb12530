package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProber records probe invocations and returns a fixed route.
type countingProber struct {
	probes int
	route  Route
	err    error
}

func (p *countingProber) Probe(ctx context.Context, destination string) (Route, error) {
	p.probes++
	if p.err != nil {
		return Route{}, p.err
	}
	return p.route, nil
}

func TestRouteManager(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{"EmptyDestination", testRouterEmptyDestination},
		{"RouteToSelf", testRouterRouteToSelf},
		{"DiscoverAndCache", testRouterDiscoverAndCache},
		{"CacheExpiry", testRouterCacheExpiry},
		{"Invalidate", testRouterInvalidate},
		{"ProbeFailure", testRouterProbeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.testFunc(t)
		})
	}
}

func testRouterEmptyDestination(t *testing.T) {
	mgr := NewRouteManager("node-a", &countingProber{}, time.Minute)

	_, err := mgr.DiscoverRoute(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyDestination)
}

func testRouterRouteToSelf(t *testing.T) {
	mgr := NewRouteManager("node-a", &countingProber{}, time.Minute)

	_, err := mgr.DiscoverRoute(context.Background(), "node-a")
	assert.ErrorIs(t, err, ErrRouteToSelf)
}

func testRouterDiscoverAndCache(t *testing.T) {
	prober := &countingProber{route: Route{
		NextHop:  "10.0.0.2:7000",
		HopCount: 2,
		Latency:  150 * time.Millisecond,
	}}
	mgr := NewRouteManager("node-a", prober, time.Minute)

	route, err := mgr.DiscoverRoute(context.Background(), "node-b")
	require.NoError(t, err)
	assert.Equal(t, "node-b", route.Destination)
	assert.Equal(t, "10.0.0.2:7000", route.NextHop)
	assert.Equal(t, 2, route.HopCount)
	assert.Equal(t, 150*time.Millisecond, route.Latency)
	assert.False(t, route.DiscoveredAt.IsZero())

	// Second lookup is served from the cache.
	_, err = mgr.DiscoverRoute(context.Background(), "node-b")
	require.NoError(t, err)
	assert.Equal(t, 1, prober.probes)

	assert.Len(t, mgr.Routes(), 1)
}

func testRouterCacheExpiry(t *testing.T) {
	prober := &countingProber{route: Route{NextHop: "peer", HopCount: 1}}
	mgr := NewRouteManager("node-a", prober, 20*time.Millisecond)

	_, err := mgr.DiscoverRoute(context.Background(), "node-b")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, mgr.Routes())

	_, err = mgr.DiscoverRoute(context.Background(), "node-b")
	require.NoError(t, err)
	assert.Equal(t, 2, prober.probes, "expired route must be re-probed")
}

func testRouterInvalidate(t *testing.T) {
	prober := &countingProber{route: Route{NextHop: "peer", HopCount: 1}}
	mgr := NewRouteManager("node-a", prober, time.Minute)

	_, err := mgr.DiscoverRoute(context.Background(), "node-b")
	require.NoError(t, err)

	mgr.InvalidateRoute("node-b")
	_, err = mgr.DiscoverRoute(context.Background(), "node-b")
	require.NoError(t, err)
	assert.Equal(t, 2, prober.probes)
}

func testRouterProbeFailure(t *testing.T) {
	mgr := NewRouteManager("node-a", &countingProber{err: ErrNoRoute}, time.Minute)

	_, err := mgr.DiscoverRoute(context.Background(), "node-z")
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.Empty(t, mgr.Routes())
}

func TestTableProber(t *testing.T) {
	t.Run("KnownNeighbor", func(t *testing.T) {
		prober := NewTableProber(map[string]Neighbor{
			"node-b": {Addr: "10.0.0.2:7000", HopCount: 3},
		}, nil)

		route, err := prober.Probe(context.Background(), "node-b")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.2:7000", route.NextHop)
		assert.Equal(t, 3, route.HopCount)
	})

	t.Run("UnknownDestination", func(t *testing.T) {
		prober := NewTableProber(nil, nil)
		_, err := prober.Probe(context.Background(), "nowhere")
		assert.ErrorIs(t, err, ErrNoRoute)
	})

	t.Run("MeasuresLatency", func(t *testing.T) {
		pinger := PingerFunc(func(ctx context.Context, addr string) (time.Duration, error) {
			return 42 * time.Millisecond, nil
		})
		prober := NewTableProber(map[string]Neighbor{
			"node-b": {Addr: "10.0.0.2:7000"},
		}, pinger)

		route, err := prober.Probe(context.Background(), "node-b")
		require.NoError(t, err)
		assert.Equal(t, 42*time.Millisecond, route.Latency)
		assert.Equal(t, 1, route.HopCount, "hop count defaults to direct")
	})

	t.Run("AddNeighbor", func(t *testing.T) {
		prober := NewTableProber(nil, nil)
		prober.AddNeighbor("node-c", Neighbor{Addr: "10.0.0.3:7000", HopCount: 1})

		route, err := prober.Probe(context.Background(), "node-c")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.3:7000", route.NextHop)
	})
}
