package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/models"
)

// WSConfig tunes the websocket endpoint.
type WSConfig struct {
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	// AllowedOrigins lists browser origins permitted to connect. Empty allows any
	// origin, which suits CLI clients that send none.
	AllowedOrigins []string
}

// Handshake is the first frame a client sends when it did not authenticate with an
// Authorization header on the upgrade request.
type Handshake struct {
	Token string `json:"token"`
}

type wsHandler struct {
	hub      *Hub
	cfg      WSConfig
	upgrader websocket.Upgrader
}

// NewWSHandler returns the http.Handler serving GET /ws.
func NewWSHandler(h *Hub, cfg WSConfig) http.Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	ws := &wsHandler{hub: h, cfg: cfg}
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     ws.checkOrigin,
	}
	return ws
}

func (ws *wsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(ws.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range ws.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (ws *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	t := &wsTransport{ws: conn, writeTimeout: ws.cfg.WriteTimeout}

	token := auth.BearerToken(r)
	if token == "" {
		token = ws.readHandshake(conn)
	}

	ctx, cancel := context.WithTimeout(r.Context(), ws.cfg.HandshakeTimeout)
	c, err := ws.hub.Admit(ctx, token, t)
	cancel()
	if err != nil {
		log.Printf("websocket from %s rejected: %v", r.RemoteAddr, err)
		return
	}

	ws.readLoop(conn, c)
}

// readHandshake waits for the token frame. Any failure yields an empty token, which
// the verifier rejects as missing.
func (ws *wsHandler) readHandshake(conn *websocket.Conn) string {
	conn.SetReadDeadline(time.Now().Add(ws.cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var hs Handshake
	if err := conn.ReadJSON(&hs); err != nil {
		return ""
	}
	return hs.Token
}

// readLoop drains client frames until the socket fails, then unregisters. Clients
// send nothing after the handshake; reading keeps pongs and close frames flowing.
func (ws *wsHandler) readLoop(conn *websocket.Conn, c *Conn) {
	defer ws.hub.Unregister(c.ID())

	if ws.cfg.PingInterval > 0 {
		wait := 2 * ws.cfg.PingInterval
		conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type wsTransport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) WriteEvent(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout))
	return t.ws.Close()
}
