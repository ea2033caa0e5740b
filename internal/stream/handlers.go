package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes exposes the live session feed. A subscriber names one
// session id and receives that session's metric ticks, coaching messages and
// status changes as JSON text frames; inbound frames are drained and
// discarded, the socket is listen-only.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:sessionID", websocket.New(func(c *websocket.Conn) {
		client := hub.Register(c.Params("sessionID"))
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			writeEvents(c, client)
		}()

		// Drain until the peer hangs up; Unregister then closes Send and
		// unblocks the writer.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		<-done
	}))
}

func writeEvents(c *websocket.Conn, client *Client) {
	for msg := range client.Send {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
