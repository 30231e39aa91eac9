package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/nft-marketplace/internal/events"
	"github.com/rickgao/nft-marketplace/internal/model"
)

// Hub upgrades HTTP requests to WebSocket and fans bus events out to them.
type Hub struct {
	cfg      HubConfig
	logger   *slog.Logger
	bus      *events.Bus
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool

	nextID    atomic.Int64
	sent      atomic.Int64
	slowDrops atomic.Int64
}

type hubClient struct {
	id         int64
	conn       *websocket.Conn
	sub        *events.Subscription
	collection string // Empty means all collections
	remote     string
}

// NewHub creates a Hub reading from bus.
func NewHub(cfg HubConfig, bus *events.Bus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultHubConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*hubClient]struct{}),
	}
}

// SetCheckOrigin overrides the upgrader's origin check.
func (h *Hub) SetCheckOrigin(f func(r *http.Request) bool) {
	h.upgrader.CheckOrigin = f
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. The optional collection query parameter filters events by asset
// collection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	id := h.nextID.Add(1)
	sub, err := h.bus.Subscribe(fmt.Sprintf("feed-%d", id), h.cfg.BufferSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		sub.Close()
		h.logger.Debug("feed upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubClient{
		id:         id,
		conn:       conn,
		sub:        sub,
		collection: r.URL.Query().Get("collection"),
		remote:     r.RemoteAddr,
	}
	if !h.add(c) {
		sub.Close()
		conn.Close()
		return
	}

	h.logger.Debug("feed client connected", "client", id, "remote", c.remote, "collection", c.collection)

	h.wg.Add(1)
	go h.serve(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Sent returns the number of frames written across all clients.
func (h *Hub) Sent() int64 {
	return h.sent.Load()
}

// SlowDrops returns how many clients were disconnected for falling behind.
func (h *Hub) SlowDrops() int64 {
	return h.slowDrops.Load()
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("feed hub stopped")
		return nil
	case <-ctx.Done():
		h.logger.Warn("feed hub stop timed out", "clients", h.Clients())
		return ctx.Err()
	}
}

func (h *Hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// serve runs the client's read, ping and write loops and cleans up when any
// of them ends.
func (h *Hub) serve(c *hubClient) {
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		defer cancel()
		h.readLoop(c)
	}()
	go func() {
		defer loops.Done()
		h.pingLoop(ctx, c)
	}()

	code, reason := h.writeLoop(ctx, c)
	cancel()

	c.sub.Close()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	c.conn.Close()
	loops.Wait()

	h.remove(c)
	h.logger.Debug("feed client disconnected", "client", c.id, "remote", c.remote, "reason", reason)
}

// writeLoop sends events until ctx ends or the subscription is dropped. It
// returns the close code to send.
func (h *Hub) writeLoop(ctx context.Context, c *hubClient) (int, string) {
	for {
		ev, ok := c.sub.Receive(ctx)
		if !ok {
			if c.sub.Dropped() {
				h.slowDrops.Add(1)
				h.logger.Warn("feed client too slow, disconnecting", "client", c.id, "remote", c.remote)
				return websocket.CloseTryAgainLater, "slow consumer"
			}
			if h.ctx.Err() != nil {
				return websocket.CloseGoingAway, "server shutting down"
			}
			return websocket.CloseNormalClosure, ""
		}
		if !c.wants(ev) {
			continue
		}

		data, err := json.Marshal(NewEventMessage(ev))
		if err != nil {
			h.logger.Error("marshal feed event", "seq", ev.Seq, "error", err)
			continue
		}

		c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("feed write failed", "client", c.id, "error", err)
			return websocket.CloseAbnormalClosure, "write failed"
		}
		h.sent.Add(1)
	}
}

// readLoop discards client frames and keeps the read deadline fresh on pong.
// It returns when the connection fails or the peer closes.
func (h *Hub) readLoop(c *hubClient) {
	pongWait := 2 * h.cfg.PingInterval
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop pings the client on the configured interval.
func (h *Hub) pingLoop(ctx context.Context, c *hubClient) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				h.logger.Debug("failed to send ping", "client", c.id, "error", err)
			}
		}
	}
}

func (c *hubClient) wants(ev model.Event) bool {
	return c.collection == "" || ev.Key.Collection == c.collection
}
