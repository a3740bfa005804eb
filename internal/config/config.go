package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode" validate:"oneof=debug release test"`
	Port     int    `mapstructure:"port" validate:"gt=0"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	API          APIConfig          `mapstructure:"api"`
	Realtime     RealtimeConfig     `mapstructure:"realtime"`
	Video        VideoConfig        `mapstructure:"video"`
	Media        MediaConfig        `mapstructure:"media"`
	Matching     MatchingConfig     `mapstructure:"matching"`
	Battle       BattleConfig       `mapstructure:"battle"`
	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Store        StoreConfig        `mapstructure:"store"`
}

type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	AppVersion string        `mapstructure:"app_version"`
	AppBuild   string        `mapstructure:"app_build"`
}

type RealtimeConfig struct {
	URL            string        `mapstructure:"url" validate:"required,url"`
	ReadLimit      int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod     time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
}

type VideoConfig struct {
	SignalURL         string        `mapstructure:"signal_url" validate:"required,url"`
	STUN              []string      `mapstructure:"stun"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" validate:"gt=0"`
	BeatRetries       int           `mapstructure:"beat_retries" validate:"gt=0"`
	BeatVolume        float64       `mapstructure:"beat_volume" validate:"gte=0,lte=1"`
	CacheDir          string        `mapstructure:"cache_dir"`
}

type MediaConfig struct {
	PermissionsGranted bool `mapstructure:"permissions_granted"`
}

type MatchingConfig struct {
	Algorithm                 string        `mapstructure:"algorithm" validate:"oneof=DEFAULT RANDOM"`
	AutoReady                 time.Duration `mapstructure:"auto_ready" validate:"gt=0"`
	ChallengePrivacyAutoReady time.Duration `mapstructure:"challenge_privacy_auto_ready" validate:"gt=0"`
	OfflineThreshold          time.Duration `mapstructure:"offline_threshold" validate:"gt=0"`
}

type BattleConfig struct {
	ForfeitThreshold time.Duration `mapstructure:"forfeit_threshold" validate:"gt=0"`
	CoinToss         time.Duration `mapstructure:"coin_toss" validate:"gt=0"`
	Summary          time.Duration `mapstructure:"summary" validate:"gt=0"`
	EventRetry       time.Duration `mapstructure:"event_retry" validate:"gt=0"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

type ConnectivityConfig struct {
	ProbeAddr     string        `mapstructure:"probe_addr"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" validate:"gt=0"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
}

type StoreConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.app_version", "1.0.0")
	v.SetDefault("api.app_build", "1")

	v.SetDefault("realtime.url", "ws://localhost:6001/app/barz?protocol=7")
	v.SetDefault("realtime.read_limit", 65536)
	v.SetDefault("realtime.ping_period", "30s")
	v.SetDefault("realtime.reconnect_delay", "2s")

	v.SetDefault("video.signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("video.stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("video.reconnect_interval", "2s")
	v.SetDefault("video.beat_retries", 3)
	v.SetDefault("video.beat_volume", 0.5)
	v.SetDefault("video.cache_dir", "")

	v.SetDefault("media.permissions_granted", true)

	v.SetDefault("matching.algorithm", "DEFAULT")
	v.SetDefault("matching.auto_ready", "30s")
	v.SetDefault("matching.challenge_privacy_auto_ready", "15s")
	v.SetDefault("matching.offline_threshold", "5s")

	v.SetDefault("battle.forfeit_threshold", "10s")
	v.SetDefault("battle.coin_toss", "10s")
	v.SetDefault("battle.summary", "30s")
	v.SetDefault("battle.event_retry", "1s")

	v.SetDefault("heartbeat.interval", "2s")

	v.SetDefault("connectivity.probe_addr", "")
	v.SetDefault("connectivity.probe_interval", "2s")
	v.SetDefault("connectivity.probe_timeout", "1s")

	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.ttl", "1h")
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. BARZ_* environment
// variables, optionally from a .env file, override both.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Str("module", "config").Msg("loaded .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("BARZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("api", cfg.API.BaseURL).Msg("config ready")
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Connectivity.ProbeAddr == "" {
		cfg.Connectivity.ProbeAddr = probeAddrFor(cfg.API.BaseURL)
	}
	if cfg.Video.CacheDir == "" {
		cfg.Video.CacheDir = os.TempDir()
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// probeAddrFor derives host:port of the backend for reachability checks.
func probeAddrFor(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// Watch calls onChange with the re-decoded config whenever the config file changes.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload rejected")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
}
