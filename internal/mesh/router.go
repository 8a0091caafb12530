package mesh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyDestination = errors.New("destination address is required")
	ErrRouteToSelf      = errors.New("cannot route to self")
	ErrNoRoute          = errors.New("no route to destination")
)

// Route describes one discovered path through the mesh.
type Route struct {
	Destination  string        `json:"destination"`
	NextHop      string        `json:"nextHop"`
	HopCount     int           `json:"hopCount"`
	Latency      time.Duration `json:"latency"`
	DiscoveredAt time.Time     `json:"-"`
}

// Prober performs the actual route discovery for one destination. The router
// caches whatever it returns.
type Prober interface {
	Probe(ctx context.Context, destination string) (Route, error)
}

// RouteManager resolves destinations to next hops, caching discovered routes
// with a TTL. Routing to the local node id and empty destinations are
// rejected before any probe happens.
type RouteManager struct {
	localID string
	prober  Prober
	ttl     time.Duration

	routes map[string]Route
	mutex  sync.RWMutex
	logger *zerolog.Logger
}

// NewRouteManager creates a manager for the given local node id. Cached
// routes expire after ttl; a non-positive ttl disables caching.
func NewRouteManager(localID string, prober Prober, ttl time.Duration) *RouteManager {
	logger := logging.GetDefaultLogger().With().
		Str("component", "route-manager").
		Str("local_id", localID).
		Logger()

	return &RouteManager{
		localID: localID,
		prober:  prober,
		ttl:     ttl,
		routes:  make(map[string]Route),
		logger:  &logger,
	}
}

// LocalID returns the local node id.
func (m *RouteManager) LocalID() string {
	return m.localID
}

// DiscoverRoute resolves a route to destination, reusing a cached entry when
// it is still fresh.
func (m *RouteManager) DiscoverRoute(ctx context.Context, destination string) (Route, error) {
	if destination == "" {
		return Route{}, ErrEmptyDestination
	}
	if destination == m.localID {
		return Route{}, ErrRouteToSelf
	}

	if route, ok := m.cached(destination); ok {
		return route, nil
	}

	route, err := m.prober.Probe(ctx, destination)
	if err != nil {
		m.logger.Warn().Err(err).Str("destination", destination).Msg("route discovery failed")
		return Route{}, err
	}
	route.Destination = destination
	route.DiscoveredAt = time.Now()

	m.mutex.Lock()
	m.routes[destination] = route
	m.mutex.Unlock()

	m.logger.Info().
		Str("destination", destination).
		Str("next_hop", route.NextHop).
		Int("hop_count", route.HopCount).
		Dur("latency", route.Latency).
		Msg("route discovered")
	return route, nil
}

// InvalidateRoute drops a cached route, forcing rediscovery on next use.
func (m *RouteManager) InvalidateRoute(destination string) {
	m.mutex.Lock()
	delete(m.routes, destination)
	m.mutex.Unlock()
}

// Routes returns a snapshot of the non-expired cached routes.
func (m *RouteManager) Routes() []Route {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]Route, 0, len(m.routes))
	for _, route := range m.routes {
		if m.fresh(route) {
			out = append(out, route)
		}
	}
	return out
}

func (m *RouteManager) cached(destination string) (Route, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	route, ok := m.routes[destination]
	if !ok || !m.fresh(route) {
		return Route{}, false
	}
	return route, true
}

func (m *RouteManager) fresh(route Route) bool {
	if m.ttl <= 0 {
		return false
	}
	return time.Since(route.DiscoveredAt) < m.ttl
}

// Pinger measures round-trip latency to a transport address. Implemented by
// the UDP transport.
type Pinger interface {
	Ping(ctx context.Context, addr string) (time.Duration, error)
}

// TableProber resolves destinations against a static neighbor table, the mesh
// bootstrap mode before gossip-based discovery exists. When a Pinger is set
// the route latency is measured, otherwise it is left zero.
type TableProber struct {
	mutex     sync.RWMutex
	neighbors map[string]Neighbor
	pinger    Pinger
}

// Neighbor is a statically configured mesh peer.
type Neighbor struct {
	Addr     string `json:"addr" yaml:"addr"`
	HopCount int    `json:"hopCount" yaml:"hop_count"`
}

// NewTableProber creates a prober over the given neighbor table.
func NewTableProber(neighbors map[string]Neighbor, pinger Pinger) *TableProber {
	if neighbors == nil {
		neighbors = make(map[string]Neighbor)
	}
	return &TableProber{
		neighbors: neighbors,
		pinger:    pinger,
	}
}

// AddNeighbor registers or replaces a neighbor entry.
func (p *TableProber) AddNeighbor(id string, n Neighbor) {
	p.mutex.Lock()
	p.neighbors[id] = n
	p.mutex.Unlock()
}

// Probe implements Prober.
func (p *TableProber) Probe(ctx context.Context, destination string) (Route, error) {
	p.mutex.RLock()
	neighbor, ok := p.neighbors[destination]
	p.mutex.RUnlock()
	if !ok {
		return Route{}, ErrNoRoute
	}

	route := Route{
		NextHop:  neighbor.Addr,
		HopCount: neighbor.HopCount,
	}
	if route.HopCount < 1 {
		route.HopCount = 1
	}

	if p.pinger != nil {
		latency, err := p.pinger.Ping(ctx, neighbor.Addr)
		if err != nil {
			return Route{}, err
		}
		route.Latency = latency
	}
	return route, nil
}
