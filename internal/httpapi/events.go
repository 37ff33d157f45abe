package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	eventsWriteWait  = 5 * time.Second
	eventsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		if !corsEnabled {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range corsAllowedOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	},
}

// serveEvents godoc
// @Summary      Event stream
// @Description  Websocket stream of event deliveries, one JSON EventRecord per text frame.
// @Success      101  {object}  types.EventRecord
// @Router       /events [get]
func serveEvents(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written an error response.
			return
		}
		defer conn.Close()

		id, records, unsubscribe := svc.Subscribe(eventsBuffer)
		defer unsubscribe()
		eventStreamSubscribers.Inc()
		defer eventStreamSubscribers.Dec()

		log := zlog.With().Str("subscriber", id).Logger()
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			log = log.With().Str("request_id", rid).Logger()
		}
		log.Debug().Msg("event stream opened")
		defer log.Debug().Msg("event stream closed")

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		// Reader: the stream is one-way, but control frames must be consumed.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(eventsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(eventsWriteWait))
				return
			case <-closed:
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
			case rec, ok := <-records:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				if err := conn.WriteJSON(rec); err != nil {
					log.Debug().Err(err).Msg("event stream write failed")
					return
				}
				eventStreamMessagesTotal.Inc()
			}
		}
	}
}
