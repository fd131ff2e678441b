package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeEngineError переводит ошибки движка и транспорта в HTTP-статус.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownChat), errors.Is(err, engine.ErrUnknownMessage), errors.Is(err, api.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotAllowed), errors.Is(err, engine.ErrCannotJoin), errors.Is(err, api.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrEmptyMessage), errors.Is(err, engine.ErrMessageTooLong):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrFloodControl):
		status = http.StatusTooManyRequests
	case errors.Is(err, api.ErrConflict), errors.Is(err, engine.ErrFetchBusy):
		status = http.StatusConflict
	case errors.Is(err, api.ErrTransient):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("handler: %v", err)
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// pathID читает числовой id из URL; при ошибке сам пишет 400.
func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return id, true
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func parseIDs(raw []string) ([]int64, error) {
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
