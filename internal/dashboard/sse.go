package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// handleEvents streams session snapshots. Every committed change produces
// a "snapshot" event; a "closed" event ends the stream when the session is
// discarded.
func (s *Server) handleEvents(c *gin.Context) {
	o := session(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		// Take the channel before the snapshot so no commit slips between.
		changed := o.Changed()
		if o.Closed() {
			writeSSE(c.Writer, "closed", map[string]string{"id": o.ID()})
			c.Writer.Flush()
			return
		}
		writeSSE(c.Writer, "snapshot", o.Snapshot())
		c.Writer.Flush()

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-changed:
				break wait
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
