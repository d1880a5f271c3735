// ABOUTME: WebSocket relay acting as a shared radio channel
// ABOUTME: Fans every binary frame out to the other clients of the same group
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	// RelayPath is the HTTP path the relay upgrades on
	RelayPath = "/lockstep"

	relayWriteTimeout = 2 * time.Second
	relaySendBuffer   = 64
)

// RelayConfig holds relay server configuration
type RelayConfig struct {
	Addr   string
	Logger hclog.Logger
}

// RelayStats counts frames seen by the relay
type RelayStats struct {
	Clients   int
	Forwarded int64
	Dropped   int64
}

// Relay is a WebSocket server that behaves like a broadcast radio
type Relay struct {
	config   RelayConfig
	logger   hclog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu      sync.RWMutex
	groups  map[uint8]map[*relayConn]struct{}
	stats   RelayStats
	server  *http.Server
	started time.Time
}

// relayConn is one connected node
type relayConn struct {
	id     string
	group  uint8
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger hclog.Logger
}

// NewRelay creates a relay. Use Handler with an existing server or ListenAndServe.
func NewRelay(config RelayConfig) *Relay {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	r := &Relay{
		config: config,
		logger: config.Logger.Named("relay"),
		upgrader: websocket.Upgrader{
			// Nodes are not browsers; the relay is meant for trusted local networks
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		groups:  make(map[uint8]map[*relayConn]struct{}),
		started: time.Now(),
	}
	r.mux.HandleFunc(RelayPath, r.handleWebSocket)

	return r
}

// Handler returns the relay's HTTP handler
func (r *Relay) Handler() http.Handler {
	return r.mux
}

// ListenAndServe serves until Shutdown is called
func (r *Relay) ListenAndServe() error {
	r.mu.Lock()
	r.server = &http.Server{Addr: r.config.Addr, Handler: r.mux}
	srv := r.server
	r.mu.Unlock()

	r.logger.Info("relay listening", "addr", r.config.Addr, "path", RelayPath)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and disconnects every client
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	srv := r.server
	var conns []*relayConn
	for _, members := range r.groups {
		for c := range members {
			conns = append(conns, c)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Stats returns a snapshot of relay counters
func (r *Relay) Stats() RelayStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := r.stats
	for _, members := range r.groups {
		stats.Clients += len(members)
	}
	return stats
}

// Uptime returns how long the relay has been running
func (r *Relay) Uptime() time.Duration {
	return time.Since(r.started)
}

func (r *Relay) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	group, err := parseGroup(req.URL.Query().Get("group"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &relayConn{
		id:    uuid.New().String(),
		group: group,
		conn:  conn,
		send:  make(chan []byte, relaySendBuffer),
		done:  make(chan struct{}),
	}
	c.logger = r.logger.With("client", c.id[:8], "group", group)

	r.register(c)
	c.logger.Info("client connected", "remote", req.RemoteAddr)

	go c.writePump()
	r.readPump(c)
}

func parseGroup(raw string) (uint8, error) {
	if raw == "" {
		return 0, nil
	}
	g, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid group %q: %w", raw, err)
	}
	return uint8(g), nil
}

func (r *Relay) register(c *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[c.group]
	if !ok {
		members = make(map[*relayConn]struct{})
		r.groups[c.group] = members
	}
	members[c] = struct{}{}
}

func (r *Relay) unregister(c *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.groups[c.group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.groups, c.group)
		}
	}
}

// readPump forwards every frame from c to the rest of its group
func (r *Relay) readPump(c *relayConn) {
	defer func() {
		r.unregister(c)
		close(c.done)
		c.conn.Close()
		c.logger.Info("client disconnected")
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read error", "error", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage || len(data) != protocol.PacketSize {
			c.logger.Debug("ignoring malformed frame", "type", messageType, "size", len(data))
			continue
		}

		r.fanOut(c, data)
	}
}

// fanOut never blocks on a slow client; a full queue drops the frame like a lost packet
func (r *Relay) fanOut(from *relayConn, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.groups[from.group] {
		if c == from {
			continue
		}
		select {
		case c.send <- frame:
			r.stats.Forwarded++
		default:
			r.stats.Dropped++
		}
	}
}

func (c *relayConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.logger.Debug("write error", "error", err)
				c.conn.Close()
				return
			}
		}
	}
}
