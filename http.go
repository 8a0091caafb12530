package radio

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/audio"
	"github.com/SaemsCodes/offline-radio/internal/mesh"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var qualityNames = map[string]audio.AudioQuality{
	"low":    audio.AudioQualityLow,
	"medium": audio.AudioQualityMedium,
	"high":   audio.AudioQualityHigh,
	"ultra":  audio.AudioQualityUltra,
}

// NewRouter builds the node HTTP API.
func NewRouter(app *App) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/status", func(c *gin.Context) {
		handleStatus(app, c)
	})

	api := r.Group("/api/audio")
	{
		api.POST("/start", func(c *gin.Context) { handleAudioStart(app, c) })
		api.POST("/stop", func(c *gin.Context) { handleAudioStop(app, c) })
		api.GET("/stats", func(c *gin.Context) { handleAudioStats(app, c) })
		api.GET("/quality", handleQualityGet)
		api.POST("/quality", handleQualitySet)
		api.POST("/mute", handleMute)
		api.POST("/playback/start", func(c *gin.Context) { handlePlaybackStart(app, c) })
		api.POST("/playback/stop", func(c *gin.Context) { handlePlaybackStop(app, c) })
		api.GET("/events", func(c *gin.Context) { handleAudioEvents(c) })
	}

	meshAPI := r.Group("/api/mesh")
	{
		meshAPI.POST("/discover", func(c *gin.Context) { handleMeshDiscover(app, c) })
		meshAPI.GET("/routes", func(c *gin.Context) { handleMeshRoutes(app, c) })
	}

	return r
}

func handleStatus(app *App, c *gin.Context) {
	received, dropped, parseErrors, probes := app.MeshStats()
	c.JSON(http.StatusOK, gin.H{
		"nodeId": app.NodeID(),
		"muted":  audio.IsMuted(),
		"mesh": gin.H{
			"blocksReceived": received,
			"blocksDropped":  dropped,
			"parseErrors":    parseErrors,
			"probesAnswered": probes,
			"localAddr":      app.receiver.LocalAddr(),
		},
	})
}

func handleAudioStart(app *App, c *gin.Context) {
	var req struct {
		Destination string `json:"destination"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := app.StartCapture(c.Request.Context(), req.Destination)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, audio.ErrPipelineAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, mesh.ErrEmptyDestination),
			errors.Is(err, mesh.ErrRouteToSelf):
			status = http.StatusBadRequest
		case errors.Is(err, mesh.ErrNoRoute):
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": stats.SessionID})
}

func handleAudioStop(app *App, c *gin.Context) {
	if err := app.StopCapture(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func handleAudioStats(app *App, c *gin.Context) {
	stats, ok := app.CaptureStats()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active capture session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":       stats.SessionID,
		"state":           stats.State,
		"framesDelivered": stats.FramesDelivered,
		"framesDropped":   stats.FramesDropped,
		"framesEncoded":   stats.FramesEncoded,
		"encodeErrors":    stats.EncodeErrors,
		"bytesOut":        stats.BytesOut,
		"relayDepth":      stats.RelayDepth,
	})
}

func handleQualityGet(c *gin.Context) {
	cfg := audio.GetConfig()
	presets := make(gin.H)
	for name, quality := range qualityNames {
		p := audio.GetQualityPresets()[quality]
		presets[name] = gin.H{
			"bitrate":       p.Bitrate,
			"sampleRate":    p.SampleRate,
			"channels":      p.Channels,
			"frameDuration": p.FrameDuration.Milliseconds(),
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"current": gin.H{
			"bitrate":       cfg.Bitrate,
			"sampleRate":    cfg.SampleRate,
			"channels":      cfg.Channels,
			"frameDuration": cfg.FrameDuration.Milliseconds(),
		},
		"presets": presets,
	})
}

func handleQualitySet(c *gin.Context) {
	var req struct {
		Quality string `json:"quality"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quality, ok := qualityNames[strings.ToLower(req.Quality)]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown quality %q", req.Quality)})
		return
	}

	// Applies to the next session; a running pipeline keeps its config.
	audio.SetQuality(quality)
	c.JSON(http.StatusOK, gin.H{"quality": req.Quality})
}

func handleMute(c *gin.Context) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	audio.SetMuted(req.Muted)
	audio.GetEventBroadcaster().BroadcastMuteChanged(req.Muted)
	c.JSON(http.StatusOK, gin.H{"muted": req.Muted})
}

func handlePlaybackStart(app *App, c *gin.Context) {
	if err := app.StartPlayback(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true})
}

func handlePlaybackStop(app *App, c *gin.Context) {
	if err := app.StopPlayback(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// handleMeshDiscover mirrors the routing response shape the mobile client
// already consumes: {success, deviceId, route?, error?}.
func handleMeshDiscover(app *App, c *gin.Context) {
	var req struct {
		Destination string `json:"destination"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":  false,
			"deviceId": app.NodeID(),
			"error":    err.Error(),
		})
		return
	}

	route, err := app.Router().DiscoverRoute(c.Request.Context(), req.Destination)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, mesh.ErrEmptyDestination), errors.Is(err, mesh.ErrRouteToSelf):
			status = http.StatusBadRequest
		case errors.Is(err, mesh.ErrNoRoute):
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"success":  false,
			"deviceId": app.NodeID(),
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"deviceId": app.NodeID(),
		"route": gin.H{
			"destination": route.Destination,
			"nextHop":     route.NextHop,
			"hopCount":    route.HopCount,
			"latency":     float64(route.Latency) / float64(time.Millisecond),
		},
	})
}

func handleMeshRoutes(app *App, c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"routes": app.Router().Routes()})
}
