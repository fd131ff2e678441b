package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chatsync/internal/logger"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
// Уже заданные переменные окружения не перезаписываются.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			logger.Errorf("config: ошибка чтения %s: %v", path, err)
		}
		return
	}
}

// ChatConfig — настройки чата, которые клиент получает только для чтения.
type ChatConfig struct {
	// MessageCharLimit — максимальная длина сообщения в символах.
	MessageCharLimit int `yaml:"message_char_limit" json:"message_char_limit"`
	// FloodMessages сообщений за FloodWindow — порог флуд-контроля. 0 — выключен.
	FloodMessages    int           `yaml:"flood_messages" json:"flood_messages"`
	FloodWindow      time.Duration `yaml:"-" json:"flood_window"`
	DefaultMinimized bool          `yaml:"default_minimized" json:"default_minimized"`
	CensorEnabled    bool          `yaml:"censor_enabled" json:"censor_enabled"`
	// FetchLimit — размер окна сообщений при пагинации.
	FetchLimit    int           `yaml:"fetch_limit" json:"fetch_limit"`
	DraftThrottle time.Duration `yaml:"-" json:"draft_throttle"`
}

// DraftsConfig — где хранить черновики: memory (по умолчанию) или redis.
type DraftsConfig struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
}

// RealtimeConfig — параметры websocket-подписки.
type RealtimeConfig struct {
	URL            string        `yaml:"url"`
	PongWait       time.Duration `yaml:"-"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	ReconnectMax   time.Duration `yaml:"-"`
}

// Config содержит настройки клиента: API форума, realtime, мост для UI, черновики.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	APIBaseURL string        `yaml:"api_base_url"`
	APIToken   string        `yaml:"-"`
	APITimeout time.Duration `yaml:"-"`

	Realtime RealtimeConfig `yaml:"realtime"`

	// Локальный HTTP-мост для слоя представления.
	BridgeAddr         string `yaml:"bridge_addr"`
	BridgeToken        string `yaml:"-"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`

	Drafts    DraftsConfig `yaml:"drafts"`
	PrefsPath string       `yaml:"prefs_path"`
	LogLevel  string       `yaml:"log_level"`

	Chat ChatConfig `yaml:"chat"`
}

// yamlConfig — промежуточная структура: длительности в YAML задаются целыми (секунды/миллисекунды).
type yamlConfig struct {
	Config                  `yaml:",inline"`
	APITimeoutSec           int `yaml:"api_timeout"`
	RealtimePongWaitSec     int `yaml:"realtime_pong_wait"`
	RealtimeReconnectMaxSec int `yaml:"realtime_reconnect_max"`
	FloodWindowSec          int `yaml:"flood_window"`
	DraftThrottleMs         int `yaml:"draft_throttle_ms"`
}

func defaults() yamlConfig {
	return yamlConfig{
		Config: Config{
			APIBaseURL: "http://localhost/api",
			Realtime: RealtimeConfig{
				URL:            "ws://localhost/api/chat/ws",
				MaxMessageSize: 1 << 16,
			},
			BridgeAddr:         "127.0.0.1:8090",
			CORSAllowedOrigins: "*",
			Drafts:             DraftsConfig{Backend: "memory", RedisURL: "redis://localhost:6379"},
			PrefsPath:          "config/prefs.yaml",
			LogLevel:           "info",
			Chat: ChatConfig{
				MessageCharLimit: 512,
				FloodMessages:    10,
				DefaultMinimized: false,
				CensorEnabled:    true,
				FetchLimit:       50,
			},
		},
		APITimeoutSec:           15,
		RealtimePongWaitSec:     60,
		RealtimeReconnectMaxSec: 60,
		FloodWindowSec:          10,
		DraftThrottleMs:         1000,
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}
	return fromYAML(yc)
}

func fromYAML(yc yamlConfig) *Config {
	cfg := yc.Config
	cfg.APIBaseURL = envStr("API_BASE_URL", cfg.APIBaseURL)
	cfg.APIToken = envStr("API_TOKEN", "")
	cfg.APITimeout = envDuration("API_TIMEOUT", time.Duration(yc.APITimeoutSec)*time.Second)

	cfg.Realtime.URL = envStr("REALTIME_URL", cfg.Realtime.URL)
	cfg.Realtime.PongWait = envDuration("REALTIME_PONG_WAIT", time.Duration(yc.RealtimePongWaitSec)*time.Second)
	cfg.Realtime.ReconnectMax = envDuration("REALTIME_RECONNECT_MAX", time.Duration(yc.RealtimeReconnectMaxSec)*time.Second)
	cfg.Realtime.MaxMessageSize = int64(envInt("REALTIME_MAX_MESSAGE_SIZE", int(cfg.Realtime.MaxMessageSize)))

	cfg.BridgeAddr = envStr("BRIDGE_ADDR", cfg.BridgeAddr)
	cfg.BridgeToken = envStr("BRIDGE_TOKEN", "")
	cfg.CORSAllowedOrigins = envStr("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)

	cfg.Drafts.Backend = strings.ToLower(envStr("DRAFTS_BACKEND", cfg.Drafts.Backend))
	cfg.Drafts.RedisURL = envStr("REDIS_URL", cfg.Drafts.RedisURL)
	cfg.PrefsPath = envStr("PREFS_PATH", cfg.PrefsPath)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)

	cfg.Chat.MessageCharLimit = envInt("CHAT_MESSAGE_CHAR_LIMIT", cfg.Chat.MessageCharLimit)
	if cfg.Chat.MessageCharLimit <= 0 {
		cfg.Chat.MessageCharLimit = 512
	}
	cfg.Chat.FloodMessages = envInt("CHAT_FLOOD_MESSAGES", cfg.Chat.FloodMessages)
	cfg.Chat.FloodWindow = envDuration("CHAT_FLOOD_WINDOW", time.Duration(yc.FloodWindowSec)*time.Second)
	cfg.Chat.DefaultMinimized = envBool("CHAT_DEFAULT_MINIMIZED", cfg.Chat.DefaultMinimized)
	cfg.Chat.CensorEnabled = envBool("CHAT_CENSOR", cfg.Chat.CensorEnabled)
	cfg.Chat.FetchLimit = envInt("CHAT_FETCH_LIMIT", cfg.Chat.FetchLimit)
	if cfg.Chat.FetchLimit <= 0 {
		cfg.Chat.FetchLimit = 50
	}
	cfg.Chat.DraftThrottle = envDuration("CHAT_DRAFT_THROTTLE", time.Duration(yc.DraftThrottleMs)*time.Millisecond)

	if os.Getenv("APP_ENV") == "production" && cfg.APIToken == "" {
		logger.Errorf("config: в production задайте API_TOKEN")
	}
	return &cfg
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envBool понимает 1/0, true/false, yes/no.
func envBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// envDuration принимает "1500ms", "10s" или целое число секунд.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
