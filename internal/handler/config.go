package handler

import (
	"net/http"

	"github.com/chatsync/internal/config"
)

// ConfigHandler отдаёт UI параметры чата, которые нужны до первой отправки.
type ConfigHandler struct {
	cfg       *config.Config
	connected func() bool
}

// NewConfigHandler создаёт обработчик конфигурации. connected сообщает состояние realtime-подписки.
func NewConfigHandler(cfg *config.Config, connected func() bool) *ConfigHandler {
	if connected == nil {
		connected = func() bool { return false }
	}
	return &ConfigHandler{cfg: cfg, connected: connected}
}

// GetChatConfig возвращает лимиты композера и режим окна по умолчанию.
func (h *ConfigHandler) GetChatConfig(w http.ResponseWriter, r *http.Request) {
	c := h.cfg.Chat
	writeJSON(w, http.StatusOK, map[string]any{
		"message_char_limit": c.MessageCharLimit,
		"flood_messages":     c.FloodMessages,
		"flood_window_sec":   int(c.FloodWindow.Seconds()),
		"default_minimized":  c.DefaultMinimized,
		"censor_enabled":     c.CensorEnabled,
		"draft_throttle_ms":  c.DraftThrottle.Milliseconds(),
		"realtime_connected": h.connected(),
	})
}

func (h *ConfigHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "realtime": h.connected()})
}
