// ABOUTME: UDP multicast transport
// ABOUTME: Maps a logical group onto an IPv4 multicast address on the local network
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Resonate-Protocol/lockstep-go/pkg/protocol"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/ipv4"
)

const (
	// DefaultMulticastPort is used when MulticastConfig.Port is zero
	DefaultMulticastPort = 7977

	defaultMulticastTTL = 1
)

// MulticastConfig describes a multicast endpoint
type MulticastConfig struct {
	// Group selects the multicast address 239.77.0.<Group>
	Group uint8

	Port int

	// Interface names the NIC to join on. Empty lets the OS choose.
	Interface string

	// TTL bounds how many routers a frame may cross
	TTL int

	Logger hclog.Logger
}

// GroupAddr returns the multicast address for a logical group
func GroupAddr(group uint8, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(239, 77, 0, group), Port: port}
}

// Multicast broadcasts frames over UDP multicast
type Multicast struct {
	config   MulticastConfig
	logger   hclog.Logger
	group    *net.UDPAddr
	recv     *net.UDPConn
	send     *ipv4.PacketConn
	sendAddr *net.UDPAddr
	listener listener

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialMulticast joins the group and starts receiving
func DialMulticast(config MulticastConfig) (*Multicast, error) {
	if config.Port == 0 {
		config.Port = DefaultMulticastPort
	}
	if config.TTL == 0 {
		config.TTL = defaultMulticastTTL
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	var ifi *net.Interface
	if config.Interface != "" {
		var err error
		ifi, err = net.InterfaceByName(config.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %s: %w", config.Interface, err)
		}
	}

	group := GroupAddr(config.Group, config.Port)

	// ListenMulticastUDP sets SO_REUSEADDR so several nodes can share one host
	recv, err := net.ListenMulticastUDP("udp4", ifi, group)
	if err != nil {
		return nil, fmt.Errorf("failed to join %s: %w", group, err)
	}

	sendConn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		recv.Close()
		return nil, fmt.Errorf("failed to open send socket: %w", err)
	}

	send := ipv4.NewPacketConn(sendConn)
	if err := send.SetMulticastTTL(config.TTL); err != nil {
		recv.Close()
		sendConn.Close()
		return nil, fmt.Errorf("failed to set multicast ttl: %w", err)
	}
	if err := send.SetMulticastLoopback(true); err != nil {
		recv.Close()
		sendConn.Close()
		return nil, fmt.Errorf("failed to enable multicast loopback: %w", err)
	}
	if ifi != nil {
		if err := send.SetMulticastInterface(ifi); err != nil {
			recv.Close()
			sendConn.Close()
			return nil, fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}

	m := &Multicast{
		config:   config,
		logger:   config.Logger.Named("multicast"),
		group:    group,
		recv:     recv,
		send:     send,
		sendAddr: sendConn.LocalAddr().(*net.UDPAddr),
	}

	m.logger.Info("joined multicast group", "group", group.String(), "ttl", config.TTL)

	m.wg.Add(1)
	go m.receiveLoop()

	return m, nil
}

// Send writes frame to the multicast group
func (m *Multicast) Send(frame []byte) error {
	if _, err := m.send.WriteTo(frame, nil, m.group); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("multicast send failed: %w", err)
	}
	return nil
}

// Subscribe installs h as the only receive handler
func (m *Multicast) Subscribe(h Handler) func() {
	return m.listener.subscribe(h)
}

// Close leaves the group and stops the receive loop
func (m *Multicast) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = errors.Join(m.recv.Close(), m.send.Close())
		m.wg.Wait()
	})
	return err
}

func (m *Multicast) receiveLoop() {
	defer m.wg.Done()

	buf := make([]byte, 64)
	for {
		n, src, err := m.recv.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Warn("multicast read failed", "error", err)
			continue
		}

		// Loopback echoes our own frames; the send socket's port identifies them
		if src.Port == m.sendAddr.Port && isLocalIP(src.IP) {
			continue
		}
		if n != protocol.PacketSize {
			m.logger.Debug("dropping frame with unexpected size", "size", n, "from", src.String())
			continue
		}

		m.listener.dispatch(append([]byte(nil), buf[:n]...))
	}
}

func isLocalIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
			return true
		}
	}
	return false
}
