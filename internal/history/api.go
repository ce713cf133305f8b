package history

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/peerlens/peerlens/internal/httpserver"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// API exposes the detection log over HTTP.
type API struct {
	store *Store
	log   *slog.Logger
}

func NewAPI(store *Store, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{store: store, log: log}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /detections/recent", a.handleRecent)
}

func (a *API) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	entries, err := a.store.Recent(limit)
	if err != nil {
		a.log.Error("query recent detections", slog.Any("error", err))
		httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "query failed"})
		return
	}
	if entries == nil {
		entries = []Entry{}
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"detections": entries,
		"count":      len(entries),
	})
}
