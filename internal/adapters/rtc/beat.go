package rtc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AudioOutput renders a downloaded backing track. Rendering is platform specific.
type AudioOutput interface {
	Play(path string, volume float64) error
	Stop()
}

// logOutput is the headless renderer: it only records what would play.
type logOutput struct{}

func (logOutput) Play(path string, volume float64) error {
	log.Info().Str("module", "webrtc").Str("path", path).Float64("volume", volume).Msg("beat playing")
	return nil
}

func (logOutput) Stop() {
	log.Info().Str("module", "webrtc").Msg("beat stopped")
}

type BeatOptions struct {
	Dir        string
	Retries    int
	RetryDelay time.Duration
	Volume     float64
	HTTPClient *http.Client
	Output     AudioOutput
}

type BeatPlayer struct {
	opts BeatOptions

	mu      sync.Mutex
	url     string
	path    string
	playing bool
}

func NewBeatPlayer(opts BeatOptions) *BeatPlayer {
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	if opts.Output == nil {
		opts.Output = logOutput{}
	}
	return &BeatPlayer{opts: opts}
}

// Load downloads url into the cache directory, retrying failed attempts.
func (b *BeatPlayer) Load(ctx context.Context, url string) error {
	b.mu.Lock()
	if b.url == url && b.path != "" {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	dst := filepath.Join(b.opts.Dir, "beat-"+uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String())
	var err error
	for attempt := 1; attempt <= b.opts.Retries; attempt++ {
		if err = b.download(ctx, url, dst); err == nil {
			break
		}
		log.Warn().Err(err).Str("module", "webrtc").Int("attempt", attempt).Msg("beat download failed")
		if attempt == b.opts.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.opts.RetryDelay):
		}
	}
	if err != nil {
		return fmt.Errorf("download beat after %d attempts: %w", b.opts.Retries, err)
	}

	b.mu.Lock()
	b.url, b.path = url, dst
	b.mu.Unlock()
	log.Info().Str("module", "webrtc").Str("path", dst).Msg("beat downloaded")
	return nil
}

func (b *BeatPlayer) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(b.opts.Dir, "beat-*.part")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (b *BeatPlayer) Play() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.playing {
		return
	}
	if b.path == "" {
		log.Warn().Str("module", "webrtc").Msg("beat not loaded, nothing to play")
		return
	}
	if err := b.opts.Output.Play(b.path, b.opts.Volume); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("beat play")
		return
	}
	b.playing = true
}

func (b *BeatPlayer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.playing {
		return
	}
	b.opts.Output.Stop()
	b.playing = false
}

func (b *BeatPlayer) Playing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}

func (b *BeatPlayer) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}
