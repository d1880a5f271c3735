// ABOUTME: mDNS discovery of lockstep relays
// ABOUTME: Relays advertise themselves; nodes browse to find one without a -relay flag
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/internal/version"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/mdns"
)

const (
	// ServiceType is the DNS-SD type relays register under
	ServiceType = "_lockstep-relay._tcp"

	// browseTimeout bounds one query and so how long Stop can wait
	browseTimeout   = time.Second
	queryRetryDelay = time.Second
)

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int

	// Path is published in the TXT record so nodes know where to upgrade
	Path string

	Logger hclog.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	logger hclog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	relays chan *RelayInfo
	wg     sync.WaitGroup
}

// RelayInfo describes a discovered relay
type RelayInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port
func (r *RelayInfo) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		logger: config.Logger.Named("discovery"),
		ctx:    ctx,
		cancel: cancel,
		relays: make(chan *RelayInfo, 10),
	}
}

// txtRecords describes the relay to browsers
func (m *Manager) txtRecords() []string {
	return []string{
		"path=" + m.config.Path,
		"product=" + version.Product,
		"version=" + version.Version,
	}
}

// Advertise registers this relay until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.txtRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.logger.Info("advertising relay", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for relays until Stop is called
func (m *Manager) Browse() {
	m.wg.Add(1)
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	defer m.wg.Done()

	for m.ctx.Err() == nil {
		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				relay := relayFromEntry(entry)
				if relay == nil {
					continue
				}
				m.logger.Debug("discovered relay", "name", relay.Name, "addr", relay.Addr())

				select {
				case m.relays <- relay:
				case <-m.ctx.Done():
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:             ServiceType,
			Domain:              "local",
			Timeout:             browseTimeout,
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: false,
			Logger:              m.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
		}

		// Cancelling the context closes the query's sockets; the query itself
		// still runs to its timeout
		if err := mdns.QueryContext(m.ctx, params); err != nil && m.ctx.Err() == nil {
			m.logger.Warn("mdns query failed", "error", err)
			select {
			case <-m.ctx.Done():
			case <-time.After(queryRetryDelay):
			}
		}
		close(entries)
		<-done
	}
}

// relayFromEntry returns nil for entries without an IPv4 address
func relayFromEntry(entry *mdns.ServiceEntry) *RelayInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}

	relay := &RelayInfo{
		Name: entry.Name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		if len(field) > 5 && field[:5] == "path=" {
			relay.Path = field[5:]
		}
	}
	return relay
}

// Relays returns the channel of discovered relays
func (m *Manager) Relays() <-chan *RelayInfo {
	return m.relays
}

// Stop stops advertising and browsing and waits for both to finish
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// FindRelay browses until the first relay answers or ctx is done
func FindRelay(ctx context.Context, logger hclog.Logger) (*RelayInfo, error) {
	m := NewManager(Config{Logger: logger})
	defer m.Stop()

	m.Browse()

	select {
	case relay := <-m.Relays():
		return relay, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no relay found: %w", ctx.Err())
	}
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
