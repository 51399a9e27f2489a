// Package feed ingests bookmaker event streams over websocket. Each message
// is a JSON object mapping event id to an event payload; a null payload or a
// payload without outcomes is a deletion.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
	pingInterval     = 20 * time.Second
	reconnectDelay   = 5 * time.Second
)

// Sink receives validated feed updates.
type Sink interface {
	Upsert(source string, ev *models.Event)
	Delete(source, id string)
}

// Client maintains one source's websocket subscription, revalidating every
// event at the boundary before it reaches the sink. Reconnects use a fixed
// delay: a feed that flaps should come back on a predictable cadence rather
// than be punished with growing silence.
type Client struct {
	source string
	url    string
	sink   Sink
	logger *slog.Logger
}

func NewClient(source, url string, sink Sink, logger *slog.Logger) *Client {
	return &Client{
		source: source,
		url:    url,
		sink:   sink,
		logger: logger.With("source", source),
	}
}

// Run connects and consumes until the context is cancelled.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil {
			c.logger.Error("Feed connection lost, reconnecting",
				"url", c.url, "delay", reconnectDelay, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	c.logger.Info("Feed connected", "url", c.url)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Close the connection on cancellation to unblock ReadMessage.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var batch map[string]*models.Event
	if err := json.Unmarshal(message, &batch); err != nil {
		c.logger.Error("Failed to decode feed message", "error", err)
		return
	}

	now := time.Now().Unix()
	for id, ev := range batch {
		if ev == nil || len(ev.Outcomes) == 0 {
			c.sink.Delete(c.source, id)
			continue
		}
		if err := normalize(id, ev, now); err != nil {
			c.logger.Warn("Dropping invalid event", "event_id", id, "error", err)
			continue
		}
		c.sink.Upsert(c.source, ev)
	}
}

// normalize validates an inbound event in place. Team names are required,
// countries are compared case-insensitively everywhere downstream, and an
// event carrying two outcomes with the same (type, line) is rejected rather
// than silently keeping one of them.
func normalize(id string, ev *models.Event, now int64) error {
	ev.ID = id
	if ev.HomeTeam == "" || ev.AwayTeam == "" {
		return fmt.Errorf("missing team names")
	}

	ev.Country = strings.ToLower(ev.Country)
	if ev.Phase != models.PhaseLive {
		ev.Phase = models.PhasePrematch
	}
	if ev.LastUpdate == 0 {
		ev.LastUpdate = now
	}

	seen := make(map[models.OutcomeKey]bool, len(ev.Outcomes))
	for _, o := range ev.Outcomes {
		if o.Type == "" {
			return fmt.Errorf("outcome with empty type")
		}
		if o.Odds <= 1.0 {
			return fmt.Errorf("outcome %s has non-positive price %v", o.Type, o.Odds)
		}
		key := o.Key()
		if seen[key] {
			return fmt.Errorf("duplicate outcome %s %v", o.Type, o.Line)
		}
		seen[key] = true
	}
	return nil
}
