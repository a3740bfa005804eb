package apptest

import (
	"sync"

	"github.com/dkeye/Barz/internal/core"
)

// Channels is an in-process ChannelSubscriber.
type Channels struct {
	mu   sync.Mutex
	subs map[string]map[chan core.ChannelMessage]struct{}
}

var _ core.ChannelSubscriber = (*Channels)(nil)

func NewChannels() *Channels {
	return &Channels{subs: make(map[string]map[chan core.ChannelMessage]struct{})}
}

func (c *Channels) Subscribe(channel string) (<-chan core.ChannelMessage, func()) {
	ch := make(chan core.ChannelMessage, 32)
	c.mu.Lock()
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[chan core.ChannelMessage]struct{})
	}
	c.subs[channel][ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs[channel], ch)
			if len(c.subs[channel]) == 0 {
				delete(c.subs, channel)
			}
			close(ch)
			c.mu.Unlock()
		})
	}
}

// Publish delivers data to every listener of channel and reports how many got it.
func (c *Channels) Publish(channel, event string, data []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs[channel] {
		ch <- core.ChannelMessage{Channel: channel, Event: event, Data: data}
	}
	return len(c.subs[channel])
}

func (c *Channels) Listeners(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[channel])
}

// Active lists channels with at least one listener.
func (c *Channels) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for name := range c.subs {
		out = append(out, name)
	}
	return out
}
