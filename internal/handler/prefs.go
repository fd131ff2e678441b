package handler

import (
	"net/http"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/storage/prefs"
)

type PrefsHandler struct {
	store *prefs.Store
}

func NewPrefsHandler(store *prefs.Store) *PrefsHandler {
	return &PrefsHandler{store: store}
}

func (h *PrefsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Get())
}

// Put заменяет настройки целиком. Ошибка записи файла не теряет значения в памяти.
func (h *PrefsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var p prefs.Preferences
	if !decodeBody(w, r, &p) {
		return
	}
	if p.Width < 0 || p.Height < 0 {
		writeError(w, http.StatusBadRequest, "invalid size")
		return
	}
	if err := h.store.Set(p); err != nil {
		logger.Errorf("prefs: %v", err)
	}
	writeJSON(w, http.StatusOK, h.store.Get())
}
