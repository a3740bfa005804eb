package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Barz/internal/app/session"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control API only listens locally.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveNotices streams session notices as JSON text frames until either side
// goes away.
func serveNotices(ctx context.Context, c *gin.Context, s Session) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("upgrade failed")
		return
	}
	defer conn.Close()

	notices, cancel := s.Notices()
	defer cancel()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go readPump(conn, stop)
	writePump(ctx, conn, notices)
}

// readPump discards client frames and cancels the stream once the client closes.
func readPump(conn *websocket.Conn, stop context.CancelFunc) {
	defer stop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, notices <-chan session.Notice) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case n, ok := <-notices:
			if !ok {
				return
			}
			b, err := json.Marshal(n)
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("encode notice")
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Msg("notice write failed")
				return
			}
		}
	}
}
