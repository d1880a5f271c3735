// ABOUTME: WebSocket client endpoint of a Relay
// ABOUTME: Sends and receives binary 9-byte frames on one relay group
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// RelayClientConfig holds relay client configuration
type RelayClientConfig struct {
	// Addr is the relay's host:port
	Addr   string
	Group  uint8
	Logger hclog.Logger
}

// RelayClient is a Transport backed by a relay connection
type RelayClient struct {
	config   RelayClientConfig
	logger   hclog.Logger
	conn     *websocket.Conn
	listener listener

	writeMu sync.Mutex
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RelayURL builds the WebSocket URL of a relay group
func RelayURL(addr string, group uint8) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     RelayPath,
		RawQuery: url.Values{"group": {strconv.Itoa(int(group))}}.Encode(),
	}
	return u.String()
}

// DialRelay connects to a relay and starts receiving
func DialRelay(ctx context.Context, config RelayClientConfig) (*RelayClient, error) {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	logger := config.Logger.Named("relay-client")

	target := RelayURL(config.Addr, config.Group)
	logger.Info("connecting to relay", "url", target)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &RelayClient{
		config: config,
		logger: logger,
		conn:   conn,
		ctx:    cctx,
		cancel: cancel,
	}

	c.wg.Add(1)
	go c.readMessages()

	return c, nil
}

// Send writes one binary frame to the relay
func (c *RelayClient) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("relay send failed: %w", err)
	}
	return nil
}

// Subscribe installs h as the only receive handler
func (c *RelayClient) Subscribe(h Handler) func() {
	return c.listener.subscribe(h)
}

// Close says goodbye to the relay and waits for the reader to stop
func (c *RelayClient) Close() error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	c.writeMu.Unlock()

	c.cancel()
	err := c.conn.Close()
	c.wg.Wait()
	c.logger.Info("connection closed")
	return err
}

// readMessages delivers binary frames to the active handler
func (c *RelayClient) readMessages() {
	defer c.wg.Done()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("read error", "error", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if len(data) != protocol.PacketSize {
			c.logger.Debug("dropping frame with unexpected size", "size", len(data))
			continue
		}

		c.listener.dispatch(data)
	}
}
