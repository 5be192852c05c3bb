package relay

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// NewRouter mounts the session bridge, the raw op relay and, when
// staticDir is set, the editor's static files.
func NewRouter(b *Bridge, ops *OpsHandler, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/ws", b)
	r.Handle("/rooms/{room}/ops", ops)
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

// OpsHandler relays edit ops for one room between websocket peers that
// do their own merging, without a session. Every peer, the sender
// included, receives every valid op.
type OpsHandler struct {
	Bus Bus
	Log zerolog.Logger
}

func (h *OpsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	log := h.Log.With().Str("room", room).Logger()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	ctx := r.Context()
	ops, unsubscribe, err := h.Bus.Subscribe(ctx, room)
	if err != nil {
		log.Error().Err(err).Msg("op subscription failed")
		return
	}
	defer unsubscribe()

	go func() {
		for msg := range ops {
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Msg("write op to peer failed")
				return
			}
		}
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("op peer disconnected")
			return
		}
		if _, err := DecodeOp(msg); err != nil {
			log.Warn().Err(err).Msg("dropping malformed op")
			continue
		}
		if err := h.Bus.Publish(ctx, room, msg); err != nil {
			log.Warn().Err(err).Msg("op not relayed")
		}
	}
}
