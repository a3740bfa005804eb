// Package realtime subscribes to publish/subscribe channels over the Pusher
// websocket protocol and fans inbound events out to listeners.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Barz/internal/core"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const listenerBuffer = 32

type Options struct {
	URL            string
	ReadLimit      int64
	PingPeriod     time.Duration
	ReconnectDelay time.Duration
	Authorizer     core.ChannelAuthorizer
	Dialer         *websocket.Dialer
}

type channelSub struct {
	listeners map[chan core.ChannelMessage]struct{}
}

type Client struct {
	opts Options

	mu       sync.Mutex
	conn     *wsConn
	connCtx  context.Context
	auths    *conc.WaitGroup // subscription auth calls of conn
	socketID string
	channels map[string]*channelSub
}

var _ core.ChannelSubscriber = (*Client)(nil)

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	return &Client{
		opts:     opts,
		channels: make(map[string]*channelSub),
	}
}

// Run keeps a connection open until ctx is done, redialing after ReconnectDelay
// and re-subscribing every channel that still has listeners.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("module", "adapters.realtime").Msg("connection lost")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// Connected reports whether a socket is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) session(ctx context.Context) error {
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}

	socketID, err := handshake(ws, c.opts.PingPeriod*2)
	if err != nil {
		_ = ws.Close()
		return err
	}
	conn := newWSConn(ws)
	log.Info().Str("module", "adapters.realtime").Str("socket_id", socketID).Msg("connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg, auths conc.WaitGroup
	wg.Go(func() { c.writePump(connCtx, conn) })

	c.mu.Lock()
	c.conn, c.connCtx, c.auths = conn, connCtx, &auths
	c.socketID = socketID
	for name := range c.channels {
		c.subscribeLocked(name)
	}
	c.mu.Unlock()

	err = c.readPump(connCtx, conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn, c.connCtx, c.auths = nil, nil, nil
		c.socketID = ""
	}
	c.mu.Unlock()

	cancel()
	conn.Close()
	wg.Wait()
	auths.Wait()
	return err
}

func handshake(ws *websocket.Conn, timeout time.Duration) (string, error) {
	if err := ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("handshake read: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("handshake decode: %w", err)
	}
	if env.Event != eventConnectionEstablished {
		return "", fmt.Errorf("handshake: unexpected event %q", env.Event)
	}
	raw, err := payload(env.Data)
	if err != nil {
		return "", err
	}
	var est established
	if err := json.Unmarshal(raw, &est); err != nil {
		return "", fmt.Errorf("handshake payload: %w", err)
	}
	return est.SocketID, nil
}

// Subscribe attaches a listener; the first listener of a channel subscribes it.
func (c *Client) Subscribe(channel string) (<-chan core.ChannelMessage, func()) {
	ch := make(chan core.ChannelMessage, listenerBuffer)

	c.mu.Lock()
	sub, exists := c.channels[channel]
	if !exists {
		sub = &channelSub{listeners: make(map[chan core.ChannelMessage]struct{})}
		c.channels[channel] = sub
	}
	sub.listeners[ch] = struct{}{}
	if !exists && c.conn != nil {
		c.subscribeLocked(channel)
	}
	c.mu.Unlock()

	log.Debug().Str("module", "adapters.realtime").Str("channel", channel).Bool("shared", exists).Msg("subscribe")

	var once sync.Once
	cancel := func() {
		once.Do(func() { c.release(channel, ch) })
	}
	return ch, cancel
}

func (c *Client) release(channel string, ch chan core.ChannelMessage) {
	c.mu.Lock()
	sub, ok := c.channels[channel]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(sub.listeners, ch)
	close(ch)
	last := len(sub.listeners) == 0
	if last {
		delete(c.channels, channel)
	}
	conn := c.conn
	c.mu.Unlock()

	if last && conn != nil {
		c.sendFrame(conn, eventUnsubscribe, subscribeData{Channel: channel})
		log.Debug().Str("module", "adapters.realtime").Str("channel", channel).Msg("unsubscribe")
	}
}

// Listeners reports how many listeners a channel currently has.
func (c *Client) Listeners(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.channels[channel]; ok {
		return len(sub.listeners)
	}
	return 0
}

// subscribeLocked sends pusher:subscribe for channel on the current
// connection, authorizing private channels first. The auth call runs on the
// connection's wait group and is cancelled with it. Callers hold mu and have
// checked c.conn.
func (c *Client) subscribeLocked(channel string) {
	ctx, conn, socketID := c.connCtx, c.conn, c.socketID
	c.auths.Go(func() {
		data := subscribeData{Channel: channel}
		if needsAuth(channel) {
			if c.opts.Authorizer == nil {
				log.Error().Str("module", "adapters.realtime").Str("channel", channel).Msg("no authorizer for private channel")
				return
			}
			auth, err := c.opts.Authorizer.AuthorizeChannel(ctx, channel, socketID)
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.realtime").Str("channel", channel).Msg("channel auth failed")
				return
			}
			data.Auth = auth.Auth
			data.ChannelData = auth.ChannelData
		}
		if ctx.Err() != nil {
			return
		}
		c.sendFrame(conn, eventSubscribe, data)
	})
}

func (c *Client) sendFrame(conn *wsConn, event string, data any) {
	b, err := encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.realtime").Str("event", event).Msg("encode frame")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "adapters.realtime").Str("event", event).Msg("send frame")
	}
}

// dispatch fans a message out without blocking; slow listeners drop it.
func (c *Client) dispatch(msg core.ChannelMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.channels[msg.Channel]
	if !ok {
		return
	}
	for ch := range sub.listeners {
		select {
		case ch <- msg:
		default:
			log.Warn().Str("module", "adapters.realtime").Str("channel", msg.Channel).Str("event", msg.Event).Msg("listener full, dropped")
		}
	}
}
