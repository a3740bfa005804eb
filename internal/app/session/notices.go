package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type NoticeKind string

const (
	NoticeInfo      NoticeKind = "info"
	NoticeError     NoticeKind = "error"
	NoticeCountdown NoticeKind = "countdown"
)

// Notice is a user-visible notification.
type Notice struct {
	ID      string     `json:"id"`
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

const noticeBuffer = 32

type noticeHub struct {
	mu        sync.Mutex
	listeners map[chan Notice]struct{}
}

func newNoticeHub() *noticeHub {
	return &noticeHub{listeners: make(map[chan Notice]struct{})}
}

func (h *noticeHub) subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, noticeBuffer)
	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

func (h *noticeHub) publish(n Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.listeners {
		select {
		case ch <- n:
		default:
			log.Warn().Str("module", "app.session").Str("notice", n.Message).Msg("notice listener full, dropped")
		}
	}
}

func (s *Session) notify(kind NoticeKind, msg string) {
	n := Notice{ID: uuid.NewString(), Kind: kind, Message: msg, At: s.clock.Now()}
	log.Info().Str("module", "app.session").Str("kind", string(kind)).Str("message", msg).Msg("notice")
	s.notices.publish(n)
}

// Notices subscribes to user-visible notifications.
func (s *Session) Notices() (<-chan Notice, func()) { return s.notices.subscribe() }
