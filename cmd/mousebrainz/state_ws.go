package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mousebrainz/internal/input"
	"mousebrainz/internal/ipc"
	"mousebrainz/internal/profile"
	"mousebrainz/internal/smooth"
	"mousebrainz/internal/tap"
)

// ============================================================================
// Status WebSocket: event source + hub + per-client pumps + broadcaster
// ============================================================================
//
// StatusEvents receives notifications from the engine (some of them on the
// event delivery path), the Hub fans serialized frames out to clients, and
// RunBroadcaster connects the two.
//
// Notes:
//   - Publishing never blocks. A full queue drops the notification.
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The initial message on connect is "state_init" with the status in data.
//   - scroll_velocity is coalesced (latest-wins) over wsVelocityCoalesceWindow.
//
// ============================================================================

// wsEngineStateData is the JSON `data` payload for "engine_state".
type wsEngineStateData struct {
	Running bool `json:"running"`
}

// wsRuleMatchedData is the JSON `data` payload for "rule_matched".
type wsRuleMatchedData struct {
	RuleID  string `json:"rule_id"`
	Trigger string `json:"trigger"`
	Action  string `json:"action"`
	Device  string `json:"device,omitempty"`
}

// wsTapReenabledData is the JSON `data` payload for "tap_reenabled".
type wsTapReenabledData struct {
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// wsProfileChangedData is the JSON `data` payload for "profile_changed".
type wsProfileChangedData struct {
	Source          string `json:"source"`
	RuleCount       int    `json:"rule_count"`
	InvertScrolling bool   `json:"invert_scrolling"`
	SmoothScrolling bool   `json:"smooth_scrolling"`
}

// wsVelocityData is the JSON `data` payload for "scroll_velocity".
type wsVelocityData struct {
	VelocityY float64 `json:"velocity_y"`
	VelocityX float64 `json:"velocity_x"`
	Active    bool    `json:"active"`
}

// wsOutboundEvent is a pre-typed, externally-consumable status event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means "use now"
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Event source
// ============================================================================

// StatusEvents turns engine notifications into outbound events. It satisfies
// tap.Observer and dispatch.Observer. A nil *StatusEvents discards everything.
type StatusEvents struct {
	ch     chan wsOutboundEvent
	logger *slog.Logger
}

// NewStatusEvents creates a source with a queue of size buf.
func NewStatusEvents(buf int, logger *slog.Logger) *StatusEvents {
	if buf <= 0 {
		buf = 256
	}
	return &StatusEvents{ch: make(chan wsOutboundEvent, buf), logger: logger}
}

// C is drained by RunBroadcaster.
func (s *StatusEvents) C() <-chan wsOutboundEvent { return s.ch }

func (s *StatusEvents) publish(ev wsOutboundEvent) {
	if s == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case s.ch <- ev:
	default:
		s.logger.Debug("status queue full, dropping event", "type", ev.Type)
	}
}

func (s *StatusEvents) StateChanged(running bool) {
	s.publish(wsOutboundEvent{Type: "engine_state", Data: wsEngineStateData{Running: running}})
}

func (s *StatusEvents) HookReenabled(reason tap.EventType, err error) {
	d := wsTapReenabledData{Reason: reason.String()}
	if err != nil {
		d.Error = err.Error()
	}
	s.publish(wsOutboundEvent{Type: "tap_reenabled", Data: d})
}

func (s *StatusEvents) RuleMatched(r input.Rule, ev tap.Event) {
	s.publish(wsOutboundEvent{
		Type: "rule_matched",
		Data: wsRuleMatchedData{
			RuleID:  r.ID,
			Trigger: r.Trigger.String(),
			Action:  r.Action.Type(),
			Device:  ev.Device,
		},
		At: ev.At,
	})
}

func (s *StatusEvents) ProfileChanged(snap profile.Snapshot, src profile.ChangeSource) {
	s.publish(wsOutboundEvent{
		Type: "profile_changed",
		Data: wsProfileChangedData{
			Source:          string(src),
			RuleCount:       len(snap.Rules),
			InvertScrolling: snap.InvertScrolling,
			SmoothScrolling: snap.SmoothScrolling,
		},
	})
}

func (s *StatusEvents) Velocity(st smooth.State) {
	s.publish(wsOutboundEvent{
		Type: "scroll_velocity",
		Data: wsVelocityData{VelocityY: st.VelocityY, VelocityX: st.VelocityX, Active: st.Active},
	})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero means 32.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size. Zero means 128.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and
// handle control frames. It exits on read error, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type StatusServer struct {
	logger *slog.Logger
	hub    *Hub

	// snapshot produces the state_init payload.
	snapshot func() ipc.Status
}

// NewStatusServer constructs the status server. Register it on a mux and run
// hub.Run(ctx) and RunBroadcaster.
func NewStatusServer(logger *slog.Logger, snapshot func() ipc.Status, cfg HubConfig) *StatusServer {
	return &StatusServer{
		logger:   logger,
		hub:      NewHub(logger, cfg),
		snapshot: snapshot,
	}
}

func (s *StatusServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *StatusServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStatusWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStatusWS upgrades and registers a client, then queues state_init.
func (s *StatusServer) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue state_init before registering so it is the first frame.
	if s.snapshot != nil {
		msg, err := marshalEnvelope(wsOutboundEvent{Type: "state_init", Data: s.snapshot()})
		if err != nil {
			s.logger.Warn("ws state_init marshal failed", "error", err)
		} else {
			client.send <- msg
		}
	}

	s.hub.register <- client

	// Pumps are not tied to r.Context(): net/http cancels it when this
	// handler returns. The hub and socket errors bound their lifetime.
	go client.writePump()
	go client.readPump()
}

// runStatusHTTP serves the status endpoint until ctx is canceled.
func runStatusHTTP(ctx context.Context, addr, path string, srv *StatusServer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	srv.Register(mux, path)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("status websocket listening", "addr", addr, "path", path)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads status events, marshals them, and broadcasts them to
// all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan wsOutboundEvent, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Rate-limit velocity updates: flush the latest pending one at most once
	// every wsVelocityCoalesceWindow, even if updates keep arriving.
	var pendingVel *wsOutboundEvent
	var velTimer *time.Timer
	var velTimerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		msg, err := marshalEnvelope(ev)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPendingVel := func() {
		if pendingVel == nil {
			return
		}
		emit(*pendingVel)
		pendingVel = nil
	}

	stopVelTimer := func() {
		if velTimer != nil {
			velTimer.Stop()
		}
		velTimer = nil
		velTimerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingVel()
			stopVelTimer()
			return

		case <-velTimerCh:
			flushPendingVel()
			stopVelTimer()

		case ev, ok := <-src:
			if !ok {
				flushPendingVel()
				stopVelTimer()
				logger.Debug("ws broadcaster stopping (source ended)")
				return
			}

			// Latest-wins; the timer is not reset on each update.
			if ev.Type == "scroll_velocity" {
				copyEv := ev
				pendingVel = &copyEv
				if velTimer == nil {
					velTimer = time.NewTimer(wsVelocityCoalesceWindow)
					velTimerCh = velTimer.C
				}
				continue
			}

			// Anything else: flush pending velocity first to keep ordering.
			flushPendingVel()
			stopVelTimer()
			emit(ev)
		}
	}
}
