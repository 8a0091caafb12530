package audio

import (
	"reflect"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

// AudioTrackWriter interface for a WebRTC audio track
type AudioTrackWriter interface {
	WriteSample(sample media.Sample) error
}

// TrackSink forwards compressed blocks to a WebRTC audio track as media
// samples. The track can be swapped at runtime when a peer connection is
// renegotiated; a nil track silently discards blocks.
type TrackSink struct {
	mutex    sync.RWMutex
	track    AudioTrackWriter
	duration time.Duration
}

// NewTrackSink creates a sink emitting samples of the given frame duration.
func NewTrackSink(track AudioTrackWriter, frameDuration time.Duration) *TrackSink {
	return &TrackSink{
		track:    track,
		duration: frameDuration,
	}
}

// UpdateTrack swaps the destination track.
func (s *TrackSink) UpdateTrack(track AudioTrackWriter) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.track = track
}

// WriteBlock implements BlockSink.
func (s *TrackSink) WriteBlock(b *Block) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	track := s.track
	if track == nil {
		return nil
	}
	// The interface may wrap a typed nil pointer after teardown.
	if v := reflect.ValueOf(track); v.Kind() == reflect.Ptr && v.IsNil() {
		return nil
	}

	return track.WriteSample(media.Sample{
		Data:     b.Payload,
		Duration: s.duration,
	})
}
