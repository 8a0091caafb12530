package radio

import (
	"context"

	"github.com/SaemsCodes/offline-radio/internal/audio"
	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// handleAudioEvents upgrades the request to a websocket and streams pipeline
// events until the client disconnects.
func handleAudioEvents(c *gin.Context) {
	logger := logging.GetSubsystemLogger("audio-events")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host UI, origin checks handled upstream
	})
	if err != nil {
		logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	subscriberID := uuid.New().String()
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	broadcaster := audio.GetEventBroadcaster()
	broadcaster.Subscribe(ctx, subscriberID, conn)
	defer broadcaster.Unsubscribe(subscriberID)

	// The client never sends application data; the read loop only surfaces
	// the close.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
