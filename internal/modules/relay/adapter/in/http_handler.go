package in

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	relayin "flowsync/internal/modules/relay/port/in"
	apperrors "flowsync/internal/platform/errors"
	"flowsync/internal/platform/logging"
	"flowsync/internal/platform/wsconn"
)

// HTTPHandler exposes the relay: websocket endpoints per room plus a small JSON API.
type HTTPHandler struct {
	usecase  relayin.Usecase
	settings wsconn.Settings
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewHTTPHandler(usecase relayin.Usecase, settings wsconn.Settings, logger logging.Logger) *HTTPHandler {
	return &HTTPHandler{
		usecase:  usecase,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// editors are served from arbitrary origins; access is gated by room tokens
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.OrNoOp(logger),
	}
}

func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/rooms", h.rooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}", h.room).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}/ws", h.serveWS).Methods(http.MethodGet)
	return r
}

func (h *HTTPHandler) serveWS(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	if room == "" {
		room = r.URL.Query().Get("room")
	}
	if err := h.usecase.Authorize(room, requestToken(r)); err != nil {
		h.logger.Info("refused websocket for room %q from %s: %v", room, r.RemoteAddr, err)
		writeError(w, err)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Debug("upgrade for room %q: %v", room, err)
		return
	}
	if err := h.usecase.Serve(r.Context(), room, wsconn.New(ws, h.settings)); err != nil {
		h.logger.Warn("serve room %q: %v", room, err)
	}
}

func (h *HTTPHandler) rooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.usecase.Rooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *HTTPHandler) room(w http.ResponseWriter, r *http.Request) {
	state, err := h.usecase.Room(r.Context(), mux.Vars(r)["room"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *HTTPHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.usecase.Health(r.Context()))
}

// requestToken reads the room token from the query string or a bearer header.
func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
