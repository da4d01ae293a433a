package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatd/internal/session"
	"chatd/pkg/types"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkWSOrigin,
}

// checkWSOrigin mirrors the CORS configuration: when CORS is disabled the
// service is treated as local and any origin may connect.
func checkWSOrigin(r *http.Request) bool {
	if !corsEnabled {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range corsAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// wsConn serializes frame writes onto one WebSocket connection. The session
// controller emits from its own goroutine while pongs come from the read
// loop, so every write goes through the mutex.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(f types.Frame) error {
	if f.Type == types.FrameComplete {
		var d types.CompleteData
		if err := json.Unmarshal(f.Data, &d); err == nil {
			ObserveGeneration(d.TotalTokens, d.InferenceTime)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(f)
}

// handleWS serves GET /ws/chat/{clientID}: one session per connection.
// @Summary      Chat WebSocket
// @Description  Upgrades to a WebSocket carrying message/cancel/ping frames in and start/token/complete/error/pong frames out.
// @Param        clientID path string false "client identifier, generated when absent"
// @Router       /ws/chat/{clientID} [get]
func handleWS(svc Service, w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client.
		if zlog != nil {
			zlog.Debug().Err(err).Str("client_id", clientID).Msg("websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	wsActiveSessions.Inc()
	defer wsActiveSessions.Dec()

	logger := zerolog.Nop()
	if zlog != nil {
		logger = *zlog
	}
	sender := &wsConn{conn: conn}
	ctrl := session.New(clientID, svc, sender, logger)
	defer ctrl.Close()

	// Join server base context with request context so shutdown cancels
	// in-flight generations on every connection.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	conn.SetReadLimit(maxBodyBytes)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if zlog != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zlog.Debug().Err(err).Str("client_id", clientID).Msg("websocket read failed")
			}
			return
		}
		var f types.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			// A malformed frame is answered in-band; the connection stays open.
			_ = sender.Send(types.ErrorFrame(types.ErrKindInternal, "malformed frame"))
			continue
		}
		ctrl.HandleFrame(ctx, f)
	}
}
