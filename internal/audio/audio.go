package audio

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrPipelineAlreadyRunning = errors.New("audio pipeline already running")
	ErrPipelineStopped        = errors.New("audio pipeline stopped")
	ErrFrameTooLarge          = errors.New("audio frame exceeds relay slot capacity")
)

// AudioQuality represents different audio quality presets
type AudioQuality int

const (
	AudioQualityLow AudioQuality = iota
	AudioQualityMedium
	AudioQualityHigh
	AudioQualityUltra
)

// AudioConfig holds configuration for one capture or playback pipeline.
type AudioConfig struct {
	Quality       AudioQuality
	Bitrate       int // kbps, Opus target
	SampleRate    int // Hz
	Channels      int
	FrameDuration time.Duration
}

// FrameSamples returns the number of samples per channel in one frame.
func (c AudioConfig) FrameSamples() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// TotalSamples returns the interleaved sample count of one frame buffer.
func (c AudioConfig) TotalSamples() int {
	return c.FrameSamples() * c.Channels
}

// qualityPresets defines the base quality configurations
var qualityPresets = map[AudioQuality]struct {
	bitrate    int
	sampleRate int
	channels   int
	frameDur   time.Duration
}{
	AudioQualityLow: {
		bitrate: 16, sampleRate: 16000, channels: 1,
		frameDur: 40 * time.Millisecond,
	},
	AudioQualityMedium: {
		bitrate: 32, sampleRate: 48000, channels: 1,
		frameDur: 20 * time.Millisecond,
	},
	AudioQualityHigh: {
		bitrate: 64, sampleRate: 48000, channels: 2,
		frameDur: 20 * time.Millisecond,
	},
	AudioQualityUltra: {
		bitrate: 128, sampleRate: 48000, channels: 2,
		frameDur: 10 * time.Millisecond,
	},
}

// GetQualityPresets returns the predefined pipeline configurations.
func GetQualityPresets() map[AudioQuality]AudioConfig {
	result := make(map[AudioQuality]AudioConfig)
	for quality, preset := range qualityPresets {
		result[quality] = AudioConfig{
			Quality:       quality,
			Bitrate:       preset.bitrate,
			SampleRate:    preset.sampleRate,
			Channels:      preset.channels,
			FrameDuration: preset.frameDur,
		}
	}
	return result
}

var currentConfig = AudioConfig{
	Quality:       AudioQualityMedium,
	Bitrate:       32,
	SampleRate:    48000,
	Channels:      1,
	FrameDuration: 20 * time.Millisecond,
}

// SetQuality updates the current pipeline configuration from a preset.
func SetQuality(quality AudioQuality) {
	if cfg, exists := GetQualityPresets()[quality]; exists {
		currentConfig = cfg
	}
}

// GetConfig returns the current pipeline configuration.
func GetConfig() AudioConfig {
	return currentConfig
}

// Global mute flag. When muted the compression worker keeps the block cadence
// but substitutes silence, so downstream timing is preserved.
var muted int32

// SetMuted sets the global mute state.
func SetMuted(m bool) {
	if m {
		atomic.StoreInt32(&muted, 1)
	} else {
		atomic.StoreInt32(&muted, 0)
	}
}

// IsMuted returns the global mute state.
func IsMuted() bool {
	return atomic.LoadInt32(&muted) == 1
}
