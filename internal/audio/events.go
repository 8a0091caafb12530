package audio

import (
	"context"
	"sync"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// EventType represents different types of pipeline events pushed to
// websocket subscribers.
type EventType string

const (
	EventMuteChanged   EventType = "audio-mute-changed"
	EventStateChanged  EventType = "audio-state-changed"
	EventMetricsUpdate EventType = "audio-metrics-update"
)

// Event is one websocket pipeline event.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// MuteData carries a mute state change.
type MuteData struct {
	Muted bool `json:"muted"`
}

// StateData carries a pipeline lifecycle change.
type StateData struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// MetricsData carries a periodic pipeline stats snapshot.
type MetricsData struct {
	SessionID       string `json:"session_id"`
	FramesDelivered int64  `json:"frames_delivered"`
	FramesDropped   int64  `json:"frames_dropped"`
	FramesEncoded   int64  `json:"frames_encoded"`
	EncodeErrors    int64  `json:"encode_errors"`
	BytesOut        int64  `json:"bytes_out"`
	RelayDepth      int    `json:"relay_depth"`
	LastFrameTime   string `json:"last_frame_time"`
}

type eventSubscriber struct {
	conn   *websocket.Conn
	ctx    context.Context
	logger *zerolog.Logger
}

// EventBroadcaster fans out pipeline events to websocket subscribers and
// periodically publishes metrics snapshots for running pipelines.
type EventBroadcaster struct {
	subscribers map[string]*eventSubscriber
	mutex       sync.RWMutex
	logger      *zerolog.Logger

	statsSource func() []PipelineStats
}

var (
	eventBroadcaster *EventBroadcaster
	eventOnce        sync.Once
)

// InitializeEventBroadcaster sets up the singleton broadcaster. statsSource
// yields the stats of all live pipelines for the periodic metrics push; it may
// be nil when no periodic push is wanted.
func InitializeEventBroadcaster(statsSource func() []PipelineStats) *EventBroadcaster {
	eventOnce.Do(func() {
		logger := logging.GetDefaultLogger().With().Str("component", "audio-events").Logger()
		eventBroadcaster = &EventBroadcaster{
			subscribers: make(map[string]*eventSubscriber),
			logger:      &logger,
			statsSource: statsSource,
		}
		if statsSource != nil {
			go eventBroadcaster.metricsLoop()
		}
	})
	return eventBroadcaster
}

// GetEventBroadcaster returns the singleton broadcaster, initializing a
// push-less one if needed.
func GetEventBroadcaster() *EventBroadcaster {
	return InitializeEventBroadcaster(nil)
}

// Subscribe registers a websocket connection. The subscription ends when ctx
// is cancelled or a write fails.
func (b *EventBroadcaster) Subscribe(ctx context.Context, id string, conn *websocket.Conn) {
	logger := b.logger.With().Str("subscriber", id).Logger()

	b.mutex.Lock()
	b.subscribers[id] = &eventSubscriber{
		conn:   conn,
		ctx:    ctx,
		logger: &logger,
	}
	count := len(b.subscribers)
	b.mutex.Unlock()

	b.logger.Debug().Int("subscribers", count).Msg("websocket subscriber added")
}

// Unsubscribe removes a websocket connection.
func (b *EventBroadcaster) Unsubscribe(id string) {
	b.mutex.Lock()
	delete(b.subscribers, id)
	count := len(b.subscribers)
	b.mutex.Unlock()

	b.logger.Debug().Int("subscribers", count).Msg("websocket subscriber removed")
}

// BroadcastMuteChanged publishes a mute state change.
func (b *EventBroadcaster) BroadcastMuteChanged(muted bool) {
	b.broadcast(Event{Type: EventMuteChanged, Data: MuteData{Muted: muted}})
}

// BroadcastStateChanged publishes a pipeline lifecycle change.
func (b *EventBroadcaster) BroadcastStateChanged(sessionID, state string) {
	b.broadcast(Event{Type: EventStateChanged, Data: StateData{
		SessionID: sessionID,
		State:     state,
	}})
}

func (b *EventBroadcaster) metricsLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		// Stats snapshots fold the counters into prometheus as a side effect,
		// so scrapes stay current even with no websocket subscriber.
		allStats := b.statsSource()

		b.mutex.RLock()
		idle := len(b.subscribers) == 0
		b.mutex.RUnlock()
		if idle {
			continue
		}

		for _, stats := range allStats {
			lastFrame := ""
			if !stats.LastFrameTime.IsZero() {
				lastFrame = stats.LastFrameTime.Format(time.RFC3339Nano)
			}
			b.broadcast(Event{Type: EventMetricsUpdate, Data: MetricsData{
				SessionID:       stats.SessionID,
				FramesDelivered: stats.FramesDelivered,
				FramesDropped:   stats.FramesDropped,
				FramesEncoded:   stats.FramesEncoded,
				EncodeErrors:    stats.EncodeErrors,
				BytesOut:        stats.BytesOut,
				RelayDepth:      stats.RelayDepth,
				LastFrameTime:   lastFrame,
			}})
		}
	}
}

func (b *EventBroadcaster) broadcast(event Event) {
	b.mutex.RLock()
	subs := make([]*eventSubscriber, 0, len(b.subscribers))
	ids := make([]string, 0, len(b.subscribers))
	for id, sub := range b.subscribers {
		subs = append(subs, sub)
		ids = append(ids, id)
	}
	b.mutex.RUnlock()

	for i, sub := range subs {
		writeCtx, cancel := context.WithTimeout(sub.ctx, time.Second)
		err := wsjson.Write(writeCtx, sub.conn, event)
		cancel()
		if err != nil {
			sub.logger.Warn().Err(err).Msg("failed to write event, dropping subscriber")
			b.Unsubscribe(ids[i])
		}
	}
}
