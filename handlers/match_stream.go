// handlers/match_stream.go
package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

const sseKeepAlive = 15 * time.Second

// StreamMatchEvents streams a match's events as server-sent events. The
// stream ends after the match completes or is cancelled, and closes at
// once for a match that already has. Events published
// before the client connected are not replayed; GET /api/matches/:id gives
// the current state.
func (h *MatchHandler) StreamMatchEvents(c *fiber.Ctx) error {
	id := c.Params("id")
	m, err := h.svc.Get(c.UserContext(), id)
	if err != nil {
		return h.respondError(c, err)
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	// Nothing more will be published for a finished match.
	if m.Status.Terminal() {
		return c.SendString(":\n\n")
	}

	sub := h.hub.Subscribe(id)
	done := c.Context().Done()
	logger := h.logger.With("match", id)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)

		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		_, _ = w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					logger.Error("Failed to encode event", "type", ev.Type, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}
				if ev.Terminal() {
					return
				}

			case <-ticker.C:
				_, _ = w.WriteString(": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	})

	return nil
}
