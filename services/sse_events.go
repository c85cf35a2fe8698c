package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SSEService streams engine events to clients over Server-Sent Events.
// It polls the in-memory feed rather than holding per-client channels, so
// a slow client never blocks the awarding path.
type SSEService struct {
	Log  *logrus.Logger
	Feed *EventFeed
}

func NewSSEService(log *logrus.Logger, feed *EventFeed) *SSEService {
	return &SSEService{Log: log, Feed: feed}
}

// StreamAccountEvents streams events for the account in c.Locals("account_id").
func (s *SSEService) StreamAccountEvents(c *fiber.Ctx) error {
	accountID, _ := c.Locals("account_id").(string)
	if accountID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing account"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	ctx := c.Context()
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		cursor := s.Feed.Cursor()

		// Initial keepalive so proxies open the stream immediately.
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				events := s.Feed.Since(accountID, cursor)
				if len(events) == 0 {
					// Periodic comment keeps idle connections alive.
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
					continue
				}
				cursor = events[len(events)-1].Seq

				for _, e := range events {
					payload, err := json.Marshal(e)
					if err != nil {
						s.Log.WithError(err).Warn("failed to encode stream event")
						continue
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
				}
				if err := w.Flush(); err != nil {
					// Client disconnected.
					return
				}

			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}
