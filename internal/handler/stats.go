package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/remotecast/relay-server-go/internal/errors"
	"github.com/remotecast/relay-server-go/internal/model"
	"github.com/remotecast/relay-server-go/internal/store"
	"github.com/remotecast/relay-server-go/internal/util"
)

// StatsSource is the part of the broker the stats endpoint reports on.
type StatsSource interface {
	ClientCount() int
}

type StatsHandler struct {
	store   *store.Store
	broker  StatsSource
	started time.Time
}

func NewStatsHandler(st *store.Store, broker StatsSource) *StatsHandler {
	return &StatsHandler{store: st, broker: broker, started: time.Now()}
}

func (h *StatsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Stats)
	r.Get("/sessions/{sessionID}", h.Session)
	return r
}

type statsResponse struct {
	model.Stats
	EventSubscribers int   `json:"eventSubscribers"`
	UptimeSeconds    int64 `json:"uptimeSeconds"`
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Stats:         h.store.Stats(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if h.broker != nil {
		resp.EventSubscribers = h.broker.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Session reports one session's shape. It never exposes tokens or codes.
func (h *StatsHandler) Session(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		writeError(w, apperrors.InvalidInput("sessionID", "must be a UUID"))
		return
	}

	sess, ok := h.store.Session(sessionID)
	if !ok {
		writeError(w, apperrors.NotFound("Session"))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
