package realtime

import (
	"context"
	"time"

	"github.com/dkeye/Barz/internal/core"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *Client) writePump(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendFrame(conn, eventPing, nil)
		case data, ok := <-conn.send:
			if !ok {
				log.Debug().Str("module", "adapters.realtime").Msg("writePump channel closed")
				return
			}
			if err := conn.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.realtime").Msg("writePump set deadline")
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.realtime").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *wsConn) error {
	// Close unblocks ReadMessage once the session is cancelled.
	stop := context.AfterFunc(ctx, conn.Close)
	defer stop()

	for {
		if err := conn.conn.SetReadDeadline(time.Now().Add(c.opts.PingPeriod * 2)); err != nil {
			return err
		}
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(conn, data)
	}
}

func (c *Client) handleFrame(conn *wsConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "adapters.realtime").Msg("bad json")
		return
	}

	switch env.Event {
	case eventPing:
		c.sendFrame(conn, eventPong, nil)
	case eventPong:
	case eventSubscriptionSucceeded:
		log.Info().Str("module", "adapters.realtime").Str("channel", env.Channel).Msg("subscribed")
	case eventError, eventSubscriptionError:
		log.Error().Str("module", "adapters.realtime").Str("channel", env.Channel).RawJSON("data", rawOrNull(env.Data)).Msg("server error")
	default:
		if env.Channel == "" {
			log.Warn().Str("module", "adapters.realtime").Str("event", env.Event).Msg("unknown event")
			return
		}
		body, err := payload(env.Data)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.realtime").Str("event", env.Event).Msg("bad event data")
			return
		}
		c.dispatch(core.ChannelMessage{Channel: env.Channel, Event: env.Event, Data: body})
	}
}

func rawOrNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
